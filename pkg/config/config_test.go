package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "sass", cfg.Sass.Binary)
	assert.Equal(t, 30*time.Second, cfg.Sass.Timeout)
	assert.Equal(t, 100*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel())
}

func TestFileAndEnv(t *testing.T) {
	root := t.TempDir()
	content := "[log]\nlevel = \"debug\"\n\n[sass]\nbinary = \".tools/dart-sass/sass\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(content), 0o644))
	t.Setenv("SITEBUILD_WATCH_DEBOUNCE", "250ms")

	cfg, err := Load(root)
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel())
	assert.Equal(t, ".tools/dart-sass/sass", cfg.Sass.Binary)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
}

func TestInvalidLevel(t *testing.T) {
	t.Setenv("SITEBUILD_LOG_LEVEL", "loud")

	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestNegativeDebounce(t *testing.T) {
	t.Setenv("SITEBUILD_WATCH_DEBOUNCE", "-1s")

	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "watch.debounce")
}

func TestNegativeTimeout(t *testing.T) {
	t.Setenv("SITEBUILD_SASS_TIMEOUT", "-5s")

	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "sass.timeout")
}

func TestCachePath(t *testing.T) {
	cfg := &Config{Cache: ".sitebuild.cache"}
	assert.Equal(t, filepath.Join("/site", ".sitebuild.cache"), cfg.CachePath("/site"))

	cfg.Cache = "/tmp/tasks.cache"
	assert.Equal(t, "/tmp/tasks.cache", cfg.CachePath("/site"))
}
