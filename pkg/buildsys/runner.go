package buildsys

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/vanbrabantf/sitebuild/pkg/globs"
)

// RunOptions controls how tasks are executed
type RunOptions struct {
	// DryRun only logs the commands
	DryRun bool
	// Force ignores skip_if_exists and the input/output check of the requested task
	Force bool
	Tools *Tools
}

type (
	runtimeCtxKey struct{}
	runtimeCtx    struct {
		runTasks    map[string]bool
		projectRoot string
		tasks       TaskList
		options     RunOptions
	}
)

func getRuntimeCtx(ctx context.Context) *runtimeCtx {
	return ctx.Value(runtimeCtxKey{}).(*runtimeCtx)
}

func getTaskEnv(task *Task) expand.Environ {
	envVars := os.Environ()

	for name, value := range task.Env {
		envVars = append(envVars, fmt.Sprintf("%s=%s", name, value))
	}

	return expand.ListEnviron(envVars...)
}

var defaultExecHandler = interp.DefaultExecHandler(2 * time.Second)

// selfExecutable is the binary mv, rm and mkdir are routed to
var selfExecutable = os.Executable

func execHandler(ctx context.Context, args []string) error {
	if len(args) > 0 {
		switch args[0] {
		case "mv", "rm", "mkdir":
			// use our cross-platform implementation for these so they behave the same everywhere
			self, err := selfExecutable()
			if err == nil {
				args = append([]string{self}, args...)
			}
		}
	}

	return defaultExecHandler(ctx, args)
}

var defaultOpenHandler = interp.DefaultOpenHandler()

func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		path = os.DevNull
	}

	return defaultOpenHandler(ctx, path, flag, perm)
}

func resolvePatternLists(ctx context.Context, base string, patterns []string) ([]string, error) {
	projectRoot := getRuntimeCtx(ctx).projectRoot
	absPatterns := make([]string, len(patterns))
	for idx, item := range patterns {
		absPatterns[idx] = resolveScriptPath(base, projectRoot, item)
	}

	matches, err := globs.Expand(absPatterns, false)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve patterns")
	}
	return globs.Paths(matches), nil
}

// RunTask executes the named task after its dependencies. Every call starts with a fresh run state.
func RunTask(ctx context.Context, projectRoot, task string, tasks TaskList, opts RunOptions) error {
	if opts.Tools == nil {
		opts.Tools = &Tools{}
		defer opts.Tools.Close()
	}

	rctx := runtimeCtx{
		projectRoot: projectRoot,
		runTasks:    make(map[string]bool),
		tasks:       tasks,
		options:     opts,
	}

	ctx = context.WithValue(ctx, runtimeCtxKey{}, &rctx)
	taskMeta, found := tasks[task]
	if !found {
		return eris.Wrapf(ErrUnknownTask, "task %s not found", task)
	}

	return runTaskInternal(ctx, taskMeta, opts.Force, true)
}

// isFresh reports whether all outputs of task are newer than its newest input
func isFresh(ctx context.Context, task *Task) (bool, error) {
	var newestInput time.Time
	inputList, err := resolvePatternLists(ctx, task.Base, task.Inputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve inputs")
	}

	outputList, err := resolvePatternLists(ctx, task.Base, task.Outputs)
	if err != nil {
		return false, eris.Wrap(err, "failed to resolve output list")
	}

	for _, item := range inputList {
		info, err := os.Stat(item)
		if err != nil {
			return false, eris.Wrapf(err, "failed to check input %s", item)
		}

		if info.ModTime().After(newestInput) {
			newestInput = info.ModTime()
		}
	}

	if newestInput.IsZero() || len(outputList) == 0 {
		return false, nil
	}

	var newestOutput time.Time
	var oldestOutput time.Time

	for _, item := range outputList {
		info, err := os.Stat(item)
		if eris.Is(err, os.ErrNotExist) {
			// a missing output always requires a rebuild
			return false, nil
		}
		if err != nil {
			return false, eris.Wrapf(err, "failed to check output %s", item)
		}

		mt := info.ModTime()
		if mt.After(newestOutput) {
			newestOutput = mt
		}
		if oldestOutput.IsZero() || mt.Before(oldestOutput) {
			oldestOutput = mt
		}
	}

	if newestOutput.Sub(oldestOutput) > 10*time.Minute {
		log(ctx).Warn().
			Str("task", task.Short).
			Msgf("oldest output is %f minutes older than the newest output", newestOutput.Sub(oldestOutput).Minutes())
	}

	if oldestOutput.After(newestInput) {
		log(ctx).Info().
			Str("task", task.Short).
			Msgf("nothing to do (output is %f seconds newer)", oldestOutput.Sub(newestInput).Seconds())
		return true, nil
	}
	return false, nil
}

func allExist(ctx context.Context, task *Task) (bool, error) {
	skipList, err := resolvePatternLists(ctx, task.Base, task.SkipIfExists)
	if err != nil {
		return false, eris.Wrapf(err, "failed to resolve skip_if_exists list")
	}

	found := 0
	for _, item := range skipList {
		_, err := os.Stat(item)
		if err == nil {
			found++
		} else if !eris.Is(err, os.ErrNotExist) {
			return false, eris.Wrapf(err, "failed to check %s", item)
		}
	}

	return found > 0 && found == len(skipList), nil
}

func runTaskInternal(ctx context.Context, task *Task, force, canSkip bool) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rctx := getRuntimeCtx(ctx)
	status, ok := rctx.runTasks[task.Short]
	if ok {
		if status {
			log(ctx).Debug().Msgf("task %s already run", task.Short)
			return nil
		}

		return eris.Errorf("task %s was called recursively", task.Short)
	}

	rctx.runTasks[task.Short] = false

	for _, dep := range task.Deps {
		depTask, ok := rctx.tasks[dep]
		if !ok {
			return eris.Wrapf(ErrUnknownTask, "task %s not found", dep)
		}

		err := runTaskInternal(ctx, depTask, false, true)
		if err != nil {
			return eris.Wrapf(err, "task %s failed due to its dependency %s", task.Short, dep)
		}
	}

	if canSkip && !force {
		skip, err := allExist(ctx, task)
		if err != nil {
			return err
		}

		if skip {
			log(ctx).Info().
				Str("task", task.Short).
				Msg("skipped because all skip files exist")

			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	if !force {
		fresh, err := isFresh(ctx, task)
		if err != nil {
			return err
		}

		if fresh {
			rctx.runTasks[task.Short] = true
			return nil
		}
	}

	// With the skip and input/output checks done, we can finally start executing
	runner, err := interp.New(
		interp.Dir(task.Base),
		interp.Env(getTaskEnv(task)),
		interp.ExecHandler(execHandler),
		interp.OpenHandler(openHandler),
		interp.StdIO(nil, os.Stdout, os.Stderr),
		interp.Params("-e"),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize runner")
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(
		syntax.Minify(true),
	)
	strBuffer := strings.Builder{}
	env := ActionEnv{
		ProjectRoot: rctx.projectRoot,
		Task:        task,
		Tasks:       rctx.tasks,
		Options:     rctx.options,
	}
	env.Options.Force = force

	for _, item := range task.Cmds {
		if action, ok := item.(TaskAction); ok {
			log(ctx).Info().
				Str("task", task.Short).
				Bool("action", true).
				Msg(action.Describe())

			if !rctx.options.DryRun {
				err = action.Execute(ctx, env)
				if err != nil {
					return eris.Wrapf(err, "task %s failed", task.Short)
				}
			}
		} else if stmts, err := item.ToShellStmts(parser); err != nil {
			return eris.Wrap(err, "failed to parse shell script")
		} else if stmts != nil {
			for _, stm := range stmts {
				strBuffer.Reset()
				printer.Print(&strBuffer, stm)
				log(ctx).Info().
					Str("task", task.Short).
					Bool("command", true).
					Msg(strBuffer.String())

				if !rctx.options.DryRun {
					err = runner.Run(ctx, stm)
					if err != nil {
						return eris.Wrapf(err, "task %s failed", task.Short)
					}

					if runner.Exited() {
						rctx.runTasks[task.Short] = true
						return nil
					}
				}
			}
		} else {
			subTask, err := item.ToTask()
			if err != nil {
				return eris.Wrap(err, "failed to retrieve task ref")
			}

			if subTask == nil {
				return eris.Errorf("unexpected task command %+v", item)
			}

			err = runTaskInternal(ctx, subTask, force, true)
			if err != nil {
				return err
			}
		}

		if err = ctx.Err(); err != nil {
			return err
		}
	}

	rctx.runTasks[task.Short] = true
	return nil
}
