package buildsys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/aidarkhanov/nanoid"
	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

const anonymousPrefix = "auto#"

type parserCtx struct {
	ctx          context.Context
	options      map[string]ScriptOption
	optionValues map[string]string
	envOverrides map[string]string
	yamlCache    map[string]interface{}
	filepath     string
	projectRoot  string
	tasks        TaskList
	initPhase    bool
	registerErr  error
}

// * Helpers

func getCtx(thread *starlark.Thread) *parserCtx {
	return thread.Local("parserCtx").(*parserCtx)
}

func callerPos(thread *starlark.Thread) string {
	ctx := getCtx(thread)
	pos := thread.CallFrame(1).Pos
	return fmt.Sprintf("%s:%d:%d", simplifyPath(ctx, ctx.filepath), pos.Line, pos.Col)
}

func processCmdParts(parts starlark.Tuple, parser *syntax.Parser, base string) (*syntax.CallExpr, error) {
	envVars := make([]string, 0, len(parts))
	for _, part := range parts {
		value, ok := part.(starlark.String)
		if !ok || !strings.Contains(value.GoString(), "=") {
			break
		}
		envVars = append(envVars, value.GoString())
	}

	var cmd *syntax.CallExpr
	if len(envVars) > 0 {
		joinedEnvVars := strings.Join(envVars, " ")
		result, err := parser.Parse(strings.NewReader(joinedEnvVars), "env vars")
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse command vars %s", joinedEnvVars)
		}

		if len(result.Stmts) != 1 || result.Stmts[0].Cmd == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}

		var ok bool
		cmd, ok = result.Stmts[0].Cmd.(*syntax.CallExpr)
		if !ok || cmd.Assigns == nil {
			return nil, eris.Errorf("malformed env vars %s", joinedEnvVars)
		}
	} else {
		cmd = new(syntax.CallExpr)
	}

	cmd.Args = make([]*syntax.Word, 0, len(parts)-len(envVars))
	for _, arg := range parts[len(envVars):] {
		var encodedValue string

		switch value := arg.(type) {
		case starlark.String:
			encodedValue = value.GoString()
		case StarlarkPath:
			encodedValue = string(value)

			if filepath.IsAbs(encodedValue) {
				// absolute paths cause issues on Windows
				relValue, err := filepath.Rel(base, encodedValue)
				if err == nil {
					encodedValue = relValue
				}
			}

			encodedValue = filepath.ToSlash(encodedValue)
		default:
			return nil, eris.Errorf("found argument of type %s but only strings and paths are supported: %s", arg.Type(), arg.String())
		}

		var wordPart syntax.WordPart
		if strings.ContainsAny(encodedValue, " $'") {
			wordPart = &syntax.SglQuoted{Value: encodedValue}
		} else {
			wordPart = &syntax.Lit{Value: encodedValue}
		}

		cmd.Args = append(cmd.Args, &syntax.Word{Parts: []syntax.WordPart{wordPart}})
	}

	return cmd, nil
}

func info(thread *starlark.Thread, msg string, args ...interface{}) {
	log(getCtx(thread).ctx).Info().Msgf("%s: %s", callerPos(thread), fmt.Sprintf(msg, args...))
}

func warn(thread *starlark.Thread, msg string, args ...interface{}) {
	log(getCtx(thread).ctx).Warn().Msgf("%s: %s", callerPos(thread), fmt.Sprintf(msg, args...))
}

// * Builtin functions

func option(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var defaultValue starlark.String
	var help string

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "name", &name, "default?", &defaultValue, "help?", &help)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	if !ctx.initPhase {
		return nil, eris.New("can only be called during the init phase (in the global scope)")
	}

	ctx.options[name] = ScriptOption{
		DefaultValue: defaultValue,
		Help:         help,
	}

	value, ok := ctx.optionValues[name]
	if ok {
		return starlark.String(value), nil
	}

	return defaultValue, nil
}

func shellCmd(value starlark.Tuple, parser *syntax.Parser, printer *syntax.Printer, base string) (TaskCmd, error) {
	cmd, err := processCmdParts(value, parser, base)
	if err != nil {
		return nil, err
	}

	buffer := strings.Builder{}
	err = printer.Print(&buffer, cmd)
	if err != nil {
		return nil, err
	}

	return TaskCmdScript{Content: buffer.String()}, nil
}

func task(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var deps, skipIfExists, inputs, outputs starlark.Value
	var env *starlark.Dict
	var cmds *starlark.List
	var override bool

	ctx := getCtx(thread)
	if ctx.initPhase {
		return nil, eris.New("tasks can only be declared inside configure()")
	}

	task := new(Task)
	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "short??", &task.Short, "hidden?", &task.Hidden,
		"desc?", &task.Desc, "deps?", &deps, "base?", &task.Base, "skip_if_exists?", &skipIfExists, "inputs?",
		&inputs, "outputs?", &outputs, "env?", &env, "cmds?", &cmds, "override?", &override)
	if err != nil {
		return nil, err
	}

	task.Pos = callerPos(thread)
	anonymous := task.Short == ""
	if anonymous {
		task.Hidden = true
		task.Short = anonymousPrefix + nanoid.New()
	}

	if task.Short == "configure" {
		return nil, eris.New(`the task name "configure" is reserved, please use a different name`)
	}

	if task.Base == "" {
		task.Base = "."
	}
	task.Base = normalizePath(ctx, task.Base)

	task.Deps, err = stringList(deps, "deps")
	if err != nil {
		return nil, err
	}

	task.SkipIfExists, err = stringList(skipIfExists, "skip_if_exists")
	if err != nil {
		return nil, err
	}

	task.Inputs, err = stringList(inputs, "inputs")
	if err != nil {
		return nil, err
	}

	task.Outputs, err = stringList(outputs, "outputs")
	if err != nil {
		return nil, err
	}

	task.Env = map[string]string{}
	if env != nil {
		for _, item := range env.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, eris.Errorf("found key type %s in env map but only strings are supported", item[0].Type())
			}

			value, ok := item[1].(starlark.String)
			if !ok {
				return nil, eris.Errorf("found value of type %s for key %s but only strings are supported", item[1].Type(), key)
			}
			task.Env[key.GoString()] = value.GoString()
		}
	}

	printer := syntax.NewPrinter(syntax.Minify(true))
	parser := syntax.NewParser()
	task.Cmds = make([]TaskCmd, 0)

	if cmds != nil {
		iter := cmds.Iterate()
		defer iter.Done()

		var item starlark.Value
		for idx := 0; iter.Next(&item); idx++ {
			var cmd TaskCmd

			switch value := item.(type) {
			case starlark.String:
				cmd = TaskCmdScript{TaskName: task.Short, Index: idx, Content: value.GoString()}
			case starlark.Tuple:
				cmd, err = shellCmd(value, parser, printer, task.Base)
			case *starlark.List:
				parts := make(starlark.Tuple, value.Len())
				for i := range parts {
					parts[i] = value.Index(i)
				}
				cmd, err = shellCmd(parts, parser, printer, task.Base)
			case *Task:
				cmd = TaskCmdTaskRef{Task: value}
			case *StarlarkAction:
				cmd = value.Action
			default:
				return nil, eris.Errorf("%s: unexpected type %s. Only strings, tuples, lists, tasks and actions are valid", fn.Name(), item.Type())
			}

			if err != nil {
				return nil, eris.Wrapf(err, "failed to process command #%d", idx)
			}
			task.Cmds = append(task.Cmds, cmd)
		}
	}

	if len(task.Inputs) > 0 && len(task.Outputs) == 0 {
		warn(thread, "%s: found inputs but no outputs", fn.Name())
	}

	if !anonymous {
		prev, err := ctx.tasks.Register(task, override)
		if err != nil {
			ctx.registerErr = err
			return nil, err
		}

		if prev != nil {
			warn(thread, "task %s replaces the declaration at %s", task.Short, prev.Pos)
		}
	}

	return task, nil
}

// RunScript executes a starlark script and returns the declared options. If doConfigure is true, the script's
// configure function is called and the declared tasks are collected, validated and returned.
func RunScript(ctx context.Context, filename, projectRoot string, options map[string]string, doConfigure bool) (TaskList, map[string]ScriptOption, error) {
	projectRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, nil, err
	}

	filename, err = filepath.Abs(filename)
	if err != nil {
		return nil, nil, err
	}

	if options == nil {
		options = map[string]string{}
	}

	builtins := starlark.StringDict{
		"OS":           starlark.String(runtime.GOOS),
		"ARCH":         starlark.String(runtime.GOARCH),
		"info":         starlark.NewBuiltin("info", starInfo),
		"warn":         starlark.NewBuiltin("warn", starWarn),
		"error":        starlark.NewBuiltin("error", starError),
		"resolve_path": starlark.NewBuiltin("resolve_path", resolvePath),
		"option":       starlark.NewBuiltin("option", option),
		"getenv":       starlark.NewBuiltin("getenv", getenv),
		"setenv":       starlark.NewBuiltin("setenv", setenv),
		"prepend_path": starlark.NewBuiltin("prepend_path", prependPathDir),
		"read_yaml":    starlark.NewBuiltin("read_yaml", readYaml),
		"isdir":        starlark.NewBuiltin("isdir", starIsdir),
		"isfile":       starlark.NewBuiltin("isfile", starIsfile),
		"execute":      starlark.NewBuiltin("execute", starExec),
		"task":         starlark.NewBuiltin("task", task),
		"styles":       starlark.NewBuiltin("styles", starStyles),
		"webp":         starlark.NewBuiltin("webp", starWebp),
		"watch":        starlark.NewBuiltin("watch", starWatch),
		"anchors":      starlark.NewBuiltin("anchors", starAnchors),
	}

	thread := &starlark.Thread{
		Name: "main",
		Print: func(thread *starlark.Thread, msg string) {
			log(ctx).Info().Str("thread", thread.Name).Msg(msg)
		},
	}
	threadCtx := parserCtx{
		ctx:          ctx,
		filepath:     filename,
		projectRoot:  projectRoot,
		options:      make(map[string]ScriptOption),
		optionValues: options,
		envOverrides: make(map[string]string),
		tasks:        TaskList{},
		yamlCache:    make(map[string]interface{}),
		initPhase:    true,
	}
	thread.SetLocal("parserCtx", &threadCtx)

	script, err := os.ReadFile(filename)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "failed to read file")
	}

	globals, err := starlark.ExecFile(thread, simplifyPath(&threadCtx, filename), script, builtins)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			return nil, nil, eris.Errorf("failed to execute %s:\n%s", simplifyPath(&threadCtx, filename), evalError.Backtrace())
		}
		return nil, nil, eris.Wrap(err, "failed to execute")
	}

	if !doConfigure {
		return TaskList{}, threadCtx.options, nil
	}

	configure, ok := globals["configure"]
	if !ok {
		return nil, nil, eris.Errorf("%s did not declare a configure function", simplifyPath(&threadCtx, filename))
	}

	configureFunc, ok := configure.(starlark.Callable)
	if !ok {
		return nil, nil, eris.Errorf("%s did declare a configure value but it's not a function", simplifyPath(&threadCtx, filename))
	}

	threadCtx.initPhase = false
	_, err = starlark.Call(thread, configureFunc, starlark.Tuple{}, nil)
	if err != nil {
		if evalError, ok := err.(*starlark.EvalError); ok {
			if threadCtx.registerErr != nil {
				return nil, nil, eris.Wrap(threadCtx.registerErr, evalError.Backtrace())
			}
			return nil, nil, eris.New(evalError.Backtrace())
		}
		return nil, nil, eris.Wrapf(err, "failed configure call in %s", simplifyPath(&threadCtx, filename))
	}

	for _, task := range threadCtx.tasks {
		for name, value := range threadCtx.envOverrides {
			if _, present := task.Env[name]; !present {
				task.Env[name] = value
			}
		}
	}

	err = threadCtx.tasks.Validate()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "invalid tasks in %s", simplifyPath(&threadCtx, filename))
	}

	return threadCtx.tasks, threadCtx.options, nil
}
