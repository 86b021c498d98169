package buildsys

import (
	"encoding/gob"
	"os"

	"github.com/rotisserie/eris"

	"github.com/vanbrabantf/sitebuild/pkg/fsutil"
)

func init() {
	gob.Register(TaskList{})
	gob.Register(Task{})
	gob.Register(TaskCmdScript{})
	gob.Register(TaskCmdTaskRef{})
	gob.Register(&StylesAction{})
	gob.Register(&WebpAction{})
	gob.Register(&WatchAction{})
	gob.Register(&AnchorsAction{})
}

// WriteCache stores the options and the parsed task list so that later runs can skip the script evaluation
func WriteCache(file string, options map[string]string, list TaskList) error {
	return fsutil.WriteAtomic(file, 0o644, func(handle *os.File) error {
		encoder := gob.NewEncoder(handle)
		err := encoder.Encode(options)
		if err != nil {
			return eris.Wrap(err, "failed to encode options")
		}

		return eris.Wrap(encoder.Encode(list), "failed to encode tasks")
	})
}

func ReadCache(file string) (map[string]string, TaskList, error) {
	handle, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	defer handle.Close()

	decoder := gob.NewDecoder(handle)

	var options map[string]string
	err = decoder.Decode(&options)
	if err != nil {
		return nil, nil, eris.Wrap(err, "failed to decode options")
	}

	var result TaskList
	err = decoder.Decode(&result)
	if err != nil {
		return options, nil, eris.Wrap(err, "failed to decode tasks")
	}

	return options, result, nil
}

// LoadCache returns the cached task list if it's newer than the script and was built with the same options.
// A nil list means the script has to be evaluated again.
func LoadCache(file, script string, options map[string]string) (TaskList, error) {
	fresh, err := fsutil.IsFresh(script, file)
	if err != nil || !fresh {
		return nil, nil
	}

	cachedOptions, list, err := ReadCache(file)
	if err != nil {
		return nil, err
	}

	if len(cachedOptions) != len(options) {
		return nil, nil
	}
	for key, value := range options {
		if cached, ok := cachedOptions[key]; !ok || cached != value {
			return nil, nil
		}
	}

	return list, nil
}
