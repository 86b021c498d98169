// Package globs resolves the file patterns used in task scripts.
//
// Patterns use the doublestar syntax (**, {a,b}, ?, [...]) and are expected to be absolute.
package globs

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rotisserie/eris"
)

// Match is a single file found by Expand
type Match struct {
	// Path is the absolute path of the file
	Path string
	// Base is the static prefix of the pattern that produced this match
	Base string
	// Rel is Path relative to Base using forward slashes
	Rel string
}

// HasMeta reports whether pattern contains any glob syntax
func HasMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// Split returns the static directory prefix of pattern and the remaining glob, both slash separated
func Split(pattern string) (string, string) {
	pattern = filepath.ToSlash(filepath.Clean(pattern))
	if !HasMeta(pattern) {
		return filepath.ToSlash(filepath.Dir(pattern)), filepath.Base(pattern)
	}

	return doublestar.SplitPattern(pattern)
}

// Expand resolves every pattern and returns the union of all matches sorted by path. A pattern without glob syntax
// is returned as-is even if the file doesn't exist unless filesOnly is set.
func Expand(patterns []string, filesOnly bool) ([]Match, error) {
	seen := make(map[string]bool)
	result := make([]Match, 0)

	for _, pattern := range patterns {
		if !filepath.IsAbs(pattern) {
			return nil, eris.Errorf("pattern %s is not absolute", pattern)
		}

		base, glob := Split(pattern)
		if !HasMeta(pattern) {
			path := filepath.Clean(pattern)
			if filesOnly {
				info, err := os.Stat(path)
				if err != nil || !info.Mode().IsRegular() {
					continue
				}
			}

			if !seen[path] {
				seen[path] = true
				result = append(result, Match{Path: path, Base: filepath.FromSlash(base), Rel: glob})
			}
			continue
		}

		if !doublestar.ValidatePattern(glob) {
			return nil, eris.Errorf("invalid pattern %s", pattern)
		}

		opts := []doublestar.GlobOption{}
		if filesOnly {
			opts = append(opts, doublestar.WithFilesOnly())
		}

		matches, err := doublestar.Glob(os.DirFS(filepath.FromSlash(base)), glob, opts...)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", pattern)
		}

		for _, rel := range matches {
			path := filepath.Join(filepath.FromSlash(base), filepath.FromSlash(rel))
			if seen[path] {
				continue
			}

			seen[path] = true
			result = append(result, Match{Path: path, Base: filepath.FromSlash(base), Rel: rel})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Path < result[j].Path
	})
	return result, nil
}

// Paths returns only the paths of the passed matches
func Paths(matches []Match) []string {
	result := make([]string, len(matches))
	for idx, m := range matches {
		result[idx] = m.Path
	}
	return result
}

// MatchAny reports whether the absolute path is matched by at least one of the patterns
func MatchAny(patterns []string, path string) bool {
	path = filepath.ToSlash(filepath.Clean(path))
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(filepath.Clean(pattern))
		ok, err := doublestar.Match(pattern, path)
		if err == nil && ok {
			return true
		}
	}
	return false
}
