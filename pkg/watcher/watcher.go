// Package watcher notifies about file changes matching a set of glob patterns.
//
// Changes are debounced into change sets and the handler never runs concurrently with itself. Changes which
// arrive while the handler is busy are merged into a single pending run.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/vanbrabantf/sitebuild/pkg/globs"
)

// DefaultDebounce is used when Options.Debounce is zero
const DefaultDebounce = 100 * time.Millisecond

// Handler is called with the sorted list of changed paths
type Handler func(ctx context.Context, changes []string) error

// Options configures a subscription
type Options struct {
	// Patterns are absolute glob patterns. The static prefix of each pattern is watched recursively.
	Patterns []string
	// Debounce is the quiet period after the last event before the handler is called. Negative values disable
	// debouncing.
	Debounce time.Duration
}

// Subscription is an active watch. Call Stop to release it.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	lock    sync.Mutex
	pending map[string]bool
	kick    chan struct{}
}

// Subscribe starts watching. The subscription ends when ctx is cancelled or Stop is called.
func Subscribe(ctx context.Context, opts Options, handler Handler) (*Subscription, error) {
	if len(opts.Patterns) == 0 {
		return nil, eris.New("no patterns to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "failed to create watcher")
	}

	roots := make(map[string]bool)
	for _, pattern := range opts.Patterns {
		base, _ := globs.Split(pattern)
		roots[filepath.FromSlash(base)] = true
	}

	for root := range roots {
		err = addRecursive(fsw, root)
		if err != nil {
			fsw.Close()
			return nil, err
		}
	}

	debounce := opts.Debounce
	if debounce == 0 {
		debounce = DefaultDebounce
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel:  cancel,
		done:    make(chan struct{}),
		pending: make(map[string]bool),
		kick:    make(chan struct{}, 1),
	}

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		sub.work(ctx, handler)
	}()

	go func() {
		defer close(sub.done)
		sub.err = sub.loop(ctx, fsw, opts.Patterns, debounce)
		cancel()
		fsw.Close()
		<-workerDone
	}()

	return sub, nil
}

// Stop ends the subscription and waits until a running handler returned
func (s *Subscription) Stop() error {
	s.cancel()
	<-s.done
	return s.err
}

// Done is closed once the subscription ended
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that ended the subscription, if any. Only valid after Done was closed.
func (s *Subscription) Err() error {
	return s.err
}

func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return eris.Wrapf(err, "failed to watch %s", path)
		}

		if entry.IsDir() {
			err = fsw.Add(path)
			if err != nil {
				return eris.Wrapf(err, "failed to watch %s", path)
			}
		}
		return nil
	})
}

func (s *Subscription) loop(ctx context.Context, fsw *fsnotify.Watcher, patterns []string, debounce time.Duration) error {
	logger := zerolog.Ctx(ctx)
	changes := make(map[string]bool)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	record := func(path string) {
		if globs.MatchAny(patterns, path) {
			changes[path] = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return eris.New("watcher closed unexpectedly")
			}
			logger.Warn().Err(err).Msg("watch error")
		case evt, ok := <-fsw.Events:
			if !ok {
				return eris.New("watcher closed unexpectedly")
			}

			if evt.Op == fsnotify.Chmod {
				continue
			}

			info, err := os.Stat(evt.Name)
			if evt.Has(fsnotify.Create) && err == nil && info.IsDir() {
				// files could have been created before the watch on the new directory was active
				if err := addRecursive(fsw, evt.Name); err != nil {
					logger.Warn().Err(err).Str("path", evt.Name).Msg("failed to watch new directory")
				}
				filepath.WalkDir(evt.Name, func(path string, entry fs.DirEntry, err error) error {
					if err == nil && !entry.IsDir() {
						record(path)
					}
					return nil
				})
			} else {
				record(evt.Name)
			}

			if len(changes) == 0 {
				continue
			}

			if debounce < 0 {
				s.enqueue(changes)
				changes = make(map[string]bool)
				continue
			}

			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			if len(changes) > 0 {
				s.enqueue(changes)
				changes = make(map[string]bool)
			}
		}
	}
}

// enqueue merges the change set into the single pending slot
func (s *Subscription) enqueue(changes map[string]bool) {
	s.lock.Lock()
	for path := range changes {
		s.pending[path] = true
	}
	s.lock.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
		// a run is already queued and will pick up these changes
	}
}

func (s *Subscription) work(ctx context.Context, handler Handler) {
	logger := zerolog.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.kick:
		}

		s.lock.Lock()
		batch := make([]string, 0, len(s.pending))
		for path := range s.pending {
			batch = append(batch, path)
		}
		s.pending = make(map[string]bool)
		s.lock.Unlock()

		if len(batch) == 0 {
			continue
		}
		sort.Strings(batch)

		err := handler(ctx, batch)
		if err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Strs("changes", batch).Msg("handler failed")
		}
	}
}
