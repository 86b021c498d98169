package deps

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

// ErrUnsupportedArchive is returned for URLs without a known archive extension
var ErrUnsupportedArchive = eris.New("archive format not supported")

// Extractor unpacks the archive in f into destPath
type Extractor func(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error

// GetExtractor picks the extractor matching the archive extension of url
func GetExtractor(url string) (Extractor, error) {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return extractZip, nil
	case strings.HasSuffix(url, ".tar.gz"), strings.HasSuffix(url, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, f, bar, destPath, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
			return extractTar(bzip2.NewReader(f), f, bar, destPath, strip)
		}, nil
	case strings.HasSuffix(url, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open xz stream")
			}

			return extractTar(reader, f, bar, destPath, strip)
		}, nil
	}

	return nil, eris.Wrapf(ErrUnsupportedArchive, "%s", url)
}

// destFor strips strip leading elements from item and joins the rest onto destPath. An empty result means the
// entry was stripped away completely.
func destFor(destPath, item string, strip int) (string, error) {
	pathParts := strings.Split(filepath.Clean(filepath.FromSlash(item)), string(filepath.Separator))
	if len(pathParts) <= strip {
		return "", nil
	}

	dest := filepath.Join(destPath, filepath.Join(pathParts[strip:]...))
	rel, err := filepath.Rel(destPath, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("Archive entry %s points outside of %s", item, destPath)
	}
	return dest, nil
}

func createDest(dest string, mode os.FileMode) (*os.File, error) {
	destParent := filepath.Dir(dest)
	err := os.MkdirAll(destParent, 0o770)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	destHandle, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "Failed to create file %s", dest)
	}
	return destHandle, nil
}

func updateBar(f *os.File, bar *progressbar.ProgressBar) {
	if bar == nil {
		return
	}

	pos, err := f.Seek(0, io.SeekCurrent)
	if err == nil {
		bar.Set64(pos)
	}
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "Failed to open zip archive")
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		dest, err := destFor(destPath, item.Name, strip)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		err = copyZipEntry(item, dest)
		if err != nil {
			return err
		}
		updateBar(f, bar)
	}

	return nil
}

func copyZipEntry(item *zip.File, dest string) error {
	mode := item.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	destHandle, err := createDest(dest, mode)
	if err != nil {
		return err
	}
	defer destHandle.Close()

	itemHandle, err := item.Open()
	if err != nil {
		return eris.Wrapf(err, "Failed to open archive entry %s", item.Name)
	}
	defer itemHandle.Close()

	_, err = io.Copy(destHandle, itemHandle)
	if err != nil {
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return destHandle.Close()
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, destPath string, strip int) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		dest, err := destFor(destPath, item.Name, strip)
		if err != nil {
			return err
		}
		if dest == "" {
			continue
		}

		switch item.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeSymlink:
			err = os.MkdirAll(filepath.Dir(dest), 0o770)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
			}

			os.Remove(dest)
			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
			continue
		case tar.TypeReg:
		default:
			// hard links, devices and the like aren't used by tool archives
			continue
		}

		destHandle, err := createDest(dest, item.FileInfo().Mode().Perm())
		if err != nil {
			return err
		}

		_, err = io.Copy(destHandle, archive)
		destHandle.Close()
		if err != nil {
			return eris.Wrapf(err, "Failed to write extracted file %s", dest)
		}

		updateBar(f, bar)
	}

	return nil
}
