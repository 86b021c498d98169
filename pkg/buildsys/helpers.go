package buildsys

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// resolveScriptPath joins the passed parts the way task scripts expect it: "//" refers to the project root,
// "/" to the root of the current volume and anything else is relative to dir.
func resolveScriptPath(dir, projectRoot string, parts ...string) string {
	result := dir

	for _, path := range parts {
		switch {
		case strings.HasPrefix(path, "//"):
			result = filepath.Join(projectRoot, path[2:])
		case strings.HasPrefix(path, "/"):
			result = filepath.Join(filepath.VolumeName(result), path)
		case !filepath.IsAbs(path):
			result = filepath.Join(result, path)
		default:
			result = path
		}
	}

	return filepath.Clean(result)
}

func normalizePath(ctx *parserCtx, pathList ...string) string {
	return resolveScriptPath(filepath.Dir(ctx.filepath), ctx.projectRoot, pathList...)
}

// shortPath turns paths inside the project root into the "//" notation used in task scripts
func shortPath(projectRoot, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	rel, err := filepath.Rel(projectRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return "//" + filepath.ToSlash(rel)
}

func simplifyPath(ctx *parserCtx, path string) string {
	return shortPath(ctx.projectRoot, path)
}

func getEnvVars(ctx *parserCtx) []string {
	osEnv := os.Environ()
	shellEnv := make([]string, 0, len(osEnv)+len(ctx.envOverrides))
	for _, item := range osEnv {
		parts := strings.SplitN(item, "=", 2)
		if runtime.GOOS == "windows" {
			parts[0] = strings.ToUpper(parts[0])
		}

		// skip overridden entries to avoid conflicts
		if _, present := ctx.envOverrides[parts[0]]; !present {
			shellEnv = append(shellEnv, item)
		}
	}

	keys := make([]string, 0, len(ctx.envOverrides))
	for k := range ctx.envOverrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		shellEnv = append(shellEnv, fmt.Sprintf("%s=%s", k, ctx.envOverrides[k]))
	}

	return shellEnv
}

func interfaceToStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case bool:
		return starlark.Bool(value), nil
	case float32:
		return starlark.Float(value), nil
	case float64:
		return starlark.Float(value), nil
	}

	refValue := reflect.ValueOf(value)
	switch refValue.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]starlark.Value, refValue.Len())
		for idx := range items {
			item, err := interfaceToStarlark(refValue.Index(idx).Interface())
			if err != nil {
				return nil, err
			}
			items[idx] = item
		}

		return starlark.NewList(items), nil
	case reflect.Map:
		dict := starlark.NewDict(refValue.Len())
		iter := refValue.MapRange()
		for iter.Next() {
			key, err := interfaceToStarlark(iter.Key().Interface())
			if err != nil {
				return nil, err
			}

			item, err := interfaceToStarlark(iter.Value().Interface())
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(key, item)
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	return nil, eris.Errorf("encountered unsupported type %T", value)
}

// stringList converts a string, path or an iterable of those into a Go slice
func stringList(value starlark.Value, field string) ([]string, error) {
	switch value := value.(type) {
	case nil, starlark.NoneType:
		return []string{}, nil
	case starlark.String:
		return []string{value.GoString()}, nil
	case StarlarkPath:
		return []string{string(value)}, nil
	case starlark.Iterable:
		result := make([]string, 0)
		iter := value.Iterate()
		defer iter.Done()

		var item starlark.Value
		for iter.Next(&item) {
			switch item := item.(type) {
			case starlark.String:
				result = append(result, item.GoString())
			case StarlarkPath:
				result = append(result, string(item))
			default:
				return nil, eris.Errorf("expected all items in %s to be strings or paths but found %s", field, item.Type())
			}
		}
		return result, nil
	}

	return nil, eris.Errorf("expected %s to be a string or a list of strings but found %s", field, value.Type())
}
