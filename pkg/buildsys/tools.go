package buildsys

import (
	"context"
	"sync"
	"time"

	"github.com/vanbrabantf/sitebuild/pkg/styles"
)

// Tools holds the external helpers actions share during a run. The style compiler is started on first use.
type Tools struct {
	SassBinary    string
	SassTimeout   time.Duration
	IncludePaths  []string
	WatchDebounce time.Duration
	Progress      bool

	lock     sync.Mutex
	compiler styles.Compiler
}

// StyleCompiler returns the shared compiler and starts it if necessary
func (t *Tools) StyleCompiler(ctx context.Context) (styles.Compiler, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.compiler == nil {
		t.compiler = styles.NewCompiler(ctx, styles.CompilerConfig{
			Binary:       t.SassBinary,
			Timeout:      t.SassTimeout,
			IncludePaths: t.IncludePaths,
		})
	}
	return t.compiler, nil
}

// SetStyleCompiler replaces the compiler used by style actions
func (t *Tools) SetStyleCompiler(compiler styles.Compiler) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.compiler = compiler
}

// Close stops the style compiler if it was started
func (t *Tools) Close() error {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.compiler == nil {
		return nil
	}

	err := t.compiler.Close()
	t.compiler = nil
	return err
}
