package globs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestExpandRecursiveAlternatives(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "_sass", "a.scss"))
	touch(t, filepath.Join(root, "_sass", "nested", "b.css"))
	touch(t, filepath.Join(root, "_sass", "nested", "c.txt"))

	matches, err := Expand([]string{filepath.Join(root, "_sass", "**", "*.{scss,css}")}, true)
	require.NoError(t, err)

	assert.Equal(t, []string{
		filepath.Join(root, "_sass", "a.scss"),
		filepath.Join(root, "_sass", "nested", "b.css"),
	}, Paths(matches))
	assert.Equal(t, "nested/b.css", matches[1].Rel)
	assert.Equal(t, filepath.Join(root, "_sass"), matches[1].Base)
}

func TestExpandDeduplicates(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "a.css"))

	matches, err := Expand([]string{
		filepath.Join(root, "*.css"),
		filepath.Join(root, "a.css"),
	}, true)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestExpandLiteral(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "out", "style.css")

	matches, err := Expand([]string{missing}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{missing}, Paths(matches))

	matches, err = Expand([]string{missing}, true)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestExpandRejectsRelative(t *testing.T) {
	_, err := Expand([]string{"_sass/*.scss"}, true)
	assert.Error(t, err)
}

func TestMatchAny(t *testing.T) {
	patterns := []string{"/site/_sass/**/*.{scss,css}"}

	assert.True(t, MatchAny(patterns, "/site/_sass/a.scss"))
	assert.True(t, MatchAny(patterns, "/site/_sass/x/y/b.css"))
	assert.False(t, MatchAny(patterns, "/site/_sass/readme.md"))
	assert.False(t, MatchAny(patterns, "/site/assets/a.css"))
}

func TestSplit(t *testing.T) {
	base, glob := Split("/site/assets/posts/*/*")
	assert.Equal(t, "/site/assets/posts", base)
	assert.Equal(t, "*/*", glob)
}
