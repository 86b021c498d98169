package buildsys

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/syntax"

	"github.com/vanbrabantf/sitebuild/pkg/anchors"
	"github.com/vanbrabantf/sitebuild/pkg/images"
	"github.com/vanbrabantf/sitebuild/pkg/styles"
	"github.com/vanbrabantf/sitebuild/pkg/watcher"
)

// StylesAction compiles and bundles style sheets
type StylesAction struct {
	Sources     []string
	Dest        string
	Bundle      string
	Style       string
	Precompress bool
}

func (a *StylesAction) ToTask() (*Task, error) {
	return nil, nil
}

func (a *StylesAction) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

func (a *StylesAction) Describe() string {
	return fmt.Sprintf("styles %s -> %s", strings.Join(a.Sources, " "), a.Dest)
}

func (a *StylesAction) Execute(ctx context.Context, env ActionEnv) error {
	style, err := styles.ParseStyle(a.Style)
	if err != nil {
		return err
	}

	compiler, err := env.Options.Tools.StyleCompiler(ctx)
	if err != nil {
		return err
	}

	_, err = styles.Build(ctx, styles.Options{
		Sources:     a.Sources,
		Dest:        a.Dest,
		Bundle:      a.Bundle,
		Style:       style,
		Precompress: a.Precompress,
		Compiler:    compiler,
	})
	return err
}

// WebpAction converts images to WebP
type WebpAction struct {
	Sources  []string
	Dest     string
	Quality  float32
	Lossless bool
}

func (a *WebpAction) ToTask() (*Task, error) {
	return nil, nil
}

func (a *WebpAction) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

func (a *WebpAction) Describe() string {
	return fmt.Sprintf("webp %s -> %s", strings.Join(a.Sources, " "), a.Dest)
}

func (a *WebpAction) Execute(ctx context.Context, env ActionEnv) error {
	report, err := images.Convert(ctx, images.Options{
		Sources:  a.Sources,
		Dest:     a.Dest,
		Quality:  a.Quality,
		Lossless: a.Lossless,
		Force:    env.Options.Force,
		Progress: env.Options.Tools.Progress,
	})
	if err != nil {
		return err
	}

	log(ctx).Info().
		Str("task", env.Task.Short).
		Int("converted", len(report.Converted)).
		Int("fresh", len(report.Fresh)).
		Int("skipped", len(report.Skipped)).
		Msg("images done")
	return nil
}

// AnchorsAction links headings in HTML files to themselves
type AnchorsAction struct {
	Sources []string
}

func (a *AnchorsAction) ToTask() (*Task, error) {
	return nil, nil
}

func (a *AnchorsAction) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

func (a *AnchorsAction) Describe() string {
	return "anchors " + strings.Join(a.Sources, " ")
}

func (a *AnchorsAction) Execute(ctx context.Context, env ActionEnv) error {
	count, err := anchors.RewriteFiles(ctx, a.Sources)
	if err != nil {
		return err
	}

	log(ctx).Info().Str("task", env.Task.Short).Int("headings", count).Msg("anchors done")
	return nil
}

// WatchAction reruns Target whenever a file matching Sources changes. It blocks until the context is cancelled.
type WatchAction struct {
	Sources []string
	Target  string
}

func (a *WatchAction) ToTask() (*Task, error) {
	return nil, nil
}

func (a *WatchAction) ToShellStmts(*syntax.Parser) ([]*syntax.Stmt, error) {
	return nil, nil
}

func (a *WatchAction) Describe() string {
	return fmt.Sprintf("watch %s -> %s", strings.Join(a.Sources, " "), a.Target)
}

func (a *WatchAction) Execute(ctx context.Context, env ActionEnv) error {
	if _, ok := env.Tasks[a.Target]; !ok {
		return eris.Wrapf(ErrUnknownTask, "watch target %s", a.Target)
	}

	logger := log(ctx)
	runOpts := env.Options
	runOpts.Force = true

	sub, err := watcher.Subscribe(ctx, watcher.Options{
		Patterns: a.Sources,
		Debounce: env.Options.Tools.WatchDebounce,
	}, func(ctx context.Context, changes []string) error {
		for _, path := range changes {
			logger.Info().Str("task", env.Task.Short).Msgf("changed %s", shortPath(env.ProjectRoot, path))
		}

		// every change set starts with a fresh run state so that the target and its deps run again
		return RunTask(ctx, env.ProjectRoot, a.Target, env.Tasks, runOpts)
	})
	if err != nil {
		return err
	}

	logger.Info().Str("task", env.Task.Short).Msgf("watching for changes, %s runs on change", a.Target)
	<-sub.Done()
	return sub.Err()
}
