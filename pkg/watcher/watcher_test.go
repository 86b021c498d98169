package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	lock    sync.Mutex
	batches [][]string
	active  int32
	overlap int32
}

func (r *recorder) handle(ctx context.Context, changes []string) error {
	if atomic.AddInt32(&r.active, 1) > 1 {
		atomic.StoreInt32(&r.overlap, 1)
	}
	defer atomic.AddInt32(&r.active, -1)

	r.lock.Lock()
	r.batches = append(r.batches, changes)
	r.lock.Unlock()
	return nil
}

func (r *recorder) count() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.batches)
}

func (r *recorder) batch(idx int) []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.batches[idx]
}

func setup(t *testing.T) (string, []string) {
	t.Helper()
	root := t.TempDir()
	src := filepath.Join(root, "_sass")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.scss"), []byte(".a {}"), 0o644))
	return src, []string{filepath.Join(src, "**", "*.{scss,css}")}
}

func TestSingleChangeTriggersOnce(t *testing.T) {
	src, patterns := setup(t)
	rec := &recorder{}

	sub, err := Subscribe(context.Background(), Options{Patterns: patterns, Debounce: 50 * time.Millisecond}, rec.handle)
	require.NoError(t, err)
	defer sub.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.scss"), []byte(".a { color: red; }"), 0o644))

	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []string{filepath.Join(src, "a.scss")}, rec.batch(0))
}

func TestIgnoresUnmatchedFiles(t *testing.T) {
	src, patterns := setup(t)
	rec := &recorder{}

	sub, err := Subscribe(context.Background(), Options{Patterns: patterns, Debounce: 20 * time.Millisecond}, rec.handle)
	require.NoError(t, err)
	defer sub.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(src, "notes.md"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestWatchesNewDirectories(t *testing.T) {
	src, patterns := setup(t)
	rec := &recorder{}

	sub, err := Subscribe(context.Background(), Options{Patterns: patterns, Debounce: 50 * time.Millisecond}, rec.handle)
	require.NoError(t, err)
	defer sub.Stop()

	nested := filepath.Join(src, "components")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(nested, "button.scss"), []byte(".btn {}"), 0o644))

	require.Eventually(t, func() bool { return rec.count() >= 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, rec.batch(0), filepath.Join(nested, "button.scss"))
}

func TestChangesDuringRunAreCoalesced(t *testing.T) {
	src, patterns := setup(t)
	rec := &recorder{}
	started := make(chan struct{})
	release := make(chan struct{})
	var first int32

	handler := func(ctx context.Context, changes []string) error {
		err := rec.handle(ctx, changes)
		if atomic.CompareAndSwapInt32(&first, 0, 1) {
			close(started)
			<-release
		}
		return err
	}

	sub, err := Subscribe(context.Background(), Options{Patterns: patterns, Debounce: 20 * time.Millisecond}, handler)
	require.NoError(t, err)
	defer sub.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.scss"), []byte("1"), 0o644))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never called")
	}

	require.NoError(t, os.WriteFile(filepath.Join(src, "b.scss"), []byte("2"), 0o644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(src, "c.css"), []byte("3"), 0o644))
	time.Sleep(100 * time.Millisecond)

	close(release)

	require.Eventually(t, func() bool { return rec.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, rec.count())
	assert.Equal(t, []string{filepath.Join(src, "b.scss"), filepath.Join(src, "c.css")}, rec.batch(1))
	assert.Zero(t, atomic.LoadInt32(&rec.overlap))
}

func TestStopReleasesSubscription(t *testing.T) {
	src, patterns := setup(t)
	rec := &recorder{}

	sub, err := Subscribe(context.Background(), Options{Patterns: patterns, Debounce: 20 * time.Millisecond}, rec.handle)
	require.NoError(t, err)
	require.NoError(t, sub.Stop())

	select {
	case <-sub.Done():
	default:
		t.Fatal("Done wasn't closed after Stop")
	}

	require.NoError(t, os.WriteFile(filepath.Join(src, "a.scss"), []byte("changed"), 0o644))
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestContextCancellationEndsSubscription(t *testing.T) {
	_, patterns := setup(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := Subscribe(ctx, Options{Patterns: patterns}, (&recorder{}).handle)
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription didn't end")
	}
	assert.NoError(t, sub.Err())
}

func TestMissingRoot(t *testing.T) {
	_, err := Subscribe(context.Background(), Options{
		Patterns: []string{filepath.Join(t.TempDir(), "missing", "*.scss")},
	}, (&recorder{}).handle)
	assert.Error(t, err)
}
