// Package images converts the site's post images to WebP.
package images

import (
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/vanbrabantf/sitebuild/pkg/fsutil"
	"github.com/vanbrabantf/sitebuild/pkg/globs"
)

// DefaultQuality is used for lossy encoding when Options.Quality is zero
const DefaultQuality = 80

var supportedExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// Supported reports whether the file extension of path belongs to a format the converter can decode
func Supported(path string) bool {
	return supportedExts[strings.ToLower(filepath.Ext(path))]
}

// Options configures Convert
type Options struct {
	// Sources are absolute glob patterns
	Sources []string
	// Dest is the output directory. Outputs keep their path relative to the glob base. Empty means next to
	// the source.
	Dest     string
	Quality  float32
	Lossless bool
	// Force re-encodes files even if the output is newer than the source
	Force    bool
	Progress bool
}

// Report lists what Convert did with each matched file
type Report struct {
	Converted []string
	Fresh     []string
	Skipped   []string
}

// OutputPath returns the path a match is converted to
func OutputPath(dest string, match globs.Match) string {
	rel := filepath.FromSlash(match.Rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel)) + ".webp"
	if dest == "" {
		dest = match.Base
	}
	return filepath.Join(dest, rel)
}

// Convert encodes every matched image as WebP
func Convert(ctx context.Context, opts Options) (Report, error) {
	logger := zerolog.Ctx(ctx)
	report := Report{}

	matches, err := globs.Expand(opts.Sources, true)
	if err != nil {
		return report, err
	}

	claimed := make(map[string]string, len(matches))
	for _, match := range matches {
		if !Supported(match.Path) {
			continue
		}

		dest := OutputPath(opts.Dest, match)
		if dest == match.Path {
			continue
		}
		if other, ok := claimed[dest]; ok {
			return report, eris.Errorf("%s and %s would both be converted to %s", other, match.Path, dest)
		}
		claimed[dest] = match.Path
	}

	quality := opts.Quality
	if quality == 0 {
		quality = DefaultQuality
	}

	bar := progressbar.NewOptions(len(matches),
		progressbar.OptionSetDescription("webp"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetVisibility(opts.Progress && os.Getenv("CI") != "true"),
		progressbar.OptionClearOnFinish(),
	)
	defer bar.Finish()

	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		bar.Add(1)

		if !Supported(match.Path) {
			logger.Debug().Str("path", match.Path).Msg("not an image, passing through")
			report.Skipped = append(report.Skipped, match.Path)
			continue
		}

		dest := OutputPath(opts.Dest, match)
		if dest == match.Path {
			// already a WebP file in its final location
			report.Skipped = append(report.Skipped, match.Path)
			continue
		}

		if !opts.Force {
			fresh, err := fsutil.IsFresh(match.Path, dest)
			if err != nil {
				return report, err
			}
			if fresh {
				logger.Debug().Str("path", dest).Msg("up to date")
				report.Fresh = append(report.Fresh, match.Path)
				continue
			}
		}

		err = convertFile(match.Path, dest, &webp.Options{Lossless: opts.Lossless, Quality: quality})
		if err != nil {
			return report, err
		}

		logger.Info().Str("path", dest).Msgf("converted %s", match.Rel)
		report.Converted = append(report.Converted, match.Path)
	}

	return report, nil
}

func convertFile(src, dest string, options *webp.Options) error {
	handle, err := os.Open(src)
	if err != nil {
		return eris.Wrapf(err, "failed to open %s", src)
	}
	defer handle.Close()

	img, format, err := image.Decode(handle)
	if err != nil {
		return eris.Wrapf(err, "failed to decode %s", src)
	}

	err = os.MkdirAll(filepath.Dir(dest), 0o770)
	if err != nil {
		return eris.Wrapf(err, "failed to create %s", filepath.Dir(dest))
	}

	return fsutil.WriteAtomic(dest, 0o664, func(f *os.File) error {
		err := webp.Encode(f, img, options)
		if err != nil {
			return eris.Wrapf(err, "failed to encode %s image %s", format, src)
		}
		return nil
	})
}
