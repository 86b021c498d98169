// Package fsutil contains small file helpers shared by the pipeline actions.
package fsutil

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
)

// WriteAtomic hands a temporary file next to dest to write and moves it into place once write succeeded.
// dest is left untouched if anything fails.
func WriteAtomic(dest string, perm os.FileMode, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*")
	if err != nil {
		return eris.Wrapf(err, "failed to create temporary file for %s", dest)
	}

	err = tmp.Chmod(perm)
	if err == nil {
		err = write(tmp)
	}
	if cErr := tmp.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "failed to write %s", dest)
	}

	err = os.Rename(tmp.Name(), dest)
	if err != nil {
		os.Remove(tmp.Name())
		return eris.Wrapf(err, "failed to move %s into place", dest)
	}
	return nil
}

// IsFresh reports whether output exists and is newer than input
func IsFresh(input, output string) (bool, error) {
	inInfo, err := os.Stat(input)
	if err != nil {
		return false, eris.Wrapf(err, "failed to check %s", input)
	}

	outInfo, err := os.Stat(output)
	if err != nil {
		if eris.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, eris.Wrapf(err, "failed to check %s", output)
	}

	return newer(outInfo.ModTime(), inInfo.ModTime()), nil
}

func newer(a, b time.Time) bool {
	return a.Sub(b) > 0
}
