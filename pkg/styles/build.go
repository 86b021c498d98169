// Package styles compiles the site's style sheets into a single bundle.
package styles

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"

	"github.com/vanbrabantf/sitebuild/pkg/fsutil"
	"github.com/vanbrabantf/sitebuild/pkg/globs"
)

// DefaultBundle is the file name used when Options.Bundle is empty
const DefaultBundle = "style.css"

// Options describes a single bundle
type Options struct {
	// Sources are absolute glob patterns
	Sources []string
	// Dest is the output directory
	Dest        string
	Bundle      string
	Style       Style
	Precompress bool
	Compiler    Compiler
}

// Result describes the written bundle
type Result struct {
	Output        string
	Precompressed string
	Files         []string
	Size          int
}

// IsPartial reports whether path is a Sass partial which is only meant to be imported by other files
func IsPartial(path string) bool {
	return strings.HasPrefix(filepath.Base(path), "_")
}

// Build compiles all sources and concatenates them in path order. The bundle is only replaced once every source
// compiled successfully.
func Build(ctx context.Context, opts Options) (Result, error) {
	logger := zerolog.Ctx(ctx)
	result := Result{}

	if opts.Compiler == nil {
		return result, eris.New("no compiler configured")
	}

	bundle := opts.Bundle
	if bundle == "" {
		bundle = DefaultBundle
	}
	result.Output = filepath.Join(opts.Dest, bundle)

	matches, err := globs.Expand(opts.Sources, true)
	if err != nil {
		return result, err
	}

	chunks := make([]string, 0, len(matches))
	for _, match := range matches {
		if IsPartial(match.Path) {
			logger.Debug().Str("path", match.Path).Msg("skipping partial")
			continue
		}

		content, err := os.ReadFile(match.Path)
		if err != nil {
			return result, eris.Wrapf(err, "failed to read %s", match.Path)
		}

		css, err := opts.Compiler.Compile(ctx, Source{
			Path:    match.Path,
			Content: string(content),
			Syntax:  SyntaxFor(match.Path),
			Style:   opts.Style,
		})
		if err != nil {
			return result, err
		}

		chunks = append(chunks, css)
		result.Files = append(result.Files, match.Path)
	}

	if len(result.Files) == 0 {
		logger.Warn().Strs("sources", opts.Sources).Msg("no style sheets found, writing an empty bundle")
	}

	data := []byte(strings.Join(chunks, "\n"))
	result.Size = len(data)

	err = os.MkdirAll(opts.Dest, 0o770)
	if err != nil {
		return result, eris.Wrapf(err, "failed to create %s", opts.Dest)
	}

	err = fsutil.WriteAtomic(result.Output, 0o664, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
	if err != nil {
		return result, err
	}

	if opts.Precompress {
		result.Precompressed = result.Output + ".br"
		err = fsutil.WriteAtomic(result.Precompressed, 0o664, func(f *os.File) error {
			writer := brotli.NewWriterLevel(f, brotli.BestCompression)
			if _, err := writer.Write(data); err != nil {
				return err
			}
			return writer.Close()
		})
		if err != nil {
			return result, err
		}
	}

	logger.Info().
		Str("path", result.Output).
		Int("files", len(result.Files)).
		Int("bytes", result.Size).
		Msgf("wrote %s", result.Output)
	return result, nil
}
