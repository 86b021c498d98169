package buildsys

import (
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"

	"github.com/vanbrabantf/sitebuild/pkg/images"
	"github.com/vanbrabantf/sitebuild/pkg/styles"
)

// patternList converts the src argument of the pipeline builtins into absolute glob patterns
func patternList(ctx *parserCtx, value starlark.Value, field string) ([]string, error) {
	items, err := stringList(value, field)
	if err != nil {
		return nil, err
	}

	if len(items) == 0 {
		return nil, eris.Errorf("%s must not be empty", field)
	}

	result := make([]string, len(items))
	for idx, item := range items {
		result[idx] = filepath.ToSlash(normalizePath(ctx, item))
	}
	return result, nil
}

func starStyles(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, dest starlark.Value
	bundle := styles.DefaultBundle
	style := string(styles.StyleExpanded)
	precompress := false

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "src", &src, "dest", &dest, "bundle?", &bundle,
		"style?", &style, "precompress?", &precompress)
	if err != nil {
		return nil, err
	}

	if _, err := styles.ParseStyle(style); err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	action := &StylesAction{
		Bundle:      bundle,
		Style:       style,
		Precompress: precompress,
	}

	action.Sources, err = patternList(ctx, src, "src")
	if err != nil {
		return nil, err
	}

	destPath, err := pathArg(dest, "dest")
	if err != nil {
		return nil, err
	}
	action.Dest = normalizePath(ctx, destPath)

	if bundle == "" || filepath.Base(bundle) != bundle {
		return nil, eris.Errorf("bundle must be a plain file name but was %q", bundle)
	}

	return &StarlarkAction{Action: action}, nil
}

func starWebp(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src starlark.Value
	var dest starlark.Value = starlark.None
	quality := images.DefaultQuality
	lossless := true

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "src", &src, "dest?", &dest, "quality?", &quality,
		"lossless?", &lossless)
	if err != nil {
		return nil, err
	}

	if quality < 0 || quality > 100 {
		return nil, eris.Errorf("quality must be between 0 and 100 but was %d", quality)
	}

	ctx := getCtx(thread)
	action := &WebpAction{
		Quality:  float32(quality),
		Lossless: lossless,
	}

	action.Sources, err = patternList(ctx, src, "src")
	if err != nil {
		return nil, err
	}

	if dest != starlark.None {
		destPath, err := pathArg(dest, "dest")
		if err != nil {
			return nil, err
		}
		action.Dest = normalizePath(ctx, destPath)
	}

	return &StarlarkAction{Action: action}, nil
}

func starWatch(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src, target starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "src", &src, "task", &target)
	if err != nil {
		return nil, err
	}

	ctx := getCtx(thread)
	action := &WatchAction{}

	action.Sources, err = patternList(ctx, src, "src")
	if err != nil {
		return nil, err
	}

	switch value := target.(type) {
	case starlark.String:
		action.Target = value.GoString()
	case *Task:
		if strings.HasPrefix(value.Short, anonymousPrefix) {
			return nil, eris.New("watch() needs a named task, anonymous tasks can't be watched")
		}
		action.Target = value.Short
	default:
		return nil, eris.Errorf("task must be a task name or a task but was %s", target.Type())
	}

	if action.Target == "" {
		return nil, eris.New("task must not be empty")
	}

	return &StarlarkAction{Action: action}, nil
}

func starAnchors(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var src starlark.Value

	err := starlark.UnpackArgs(fn.Name(), args, kwargs, "src", &src)
	if err != nil {
		return nil, err
	}

	action := &AnchorsAction{}
	action.Sources, err = patternList(getCtx(thread), src, "src")
	if err != nil {
		return nil, err
	}

	return &StarlarkAction{Action: action}, nil
}
