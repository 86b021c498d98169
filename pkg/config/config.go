// Package config loads the sitebuild settings from sitebuild.toml and SITEBUILD_* environment variables
package config

import (
	"path/filepath"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigtoml"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

// FileName is looked up in the project root
const FileName = "sitebuild.toml"

// Config describes all configuration options
type Config struct {
	Log struct {
		Level string `default:"info" usage:"Minimum log level (debug, info, warn, error)"`
		JSON  bool   `default:"false" usage:"Output JSONND instead of pretty console messages"`
	}
	Sass struct {
		Binary       string        `default:"sass" usage:"Dart Sass executable"`
		Timeout      time.Duration `default:"30s" usage:"Maximum time a single compilation may take"`
		IncludePaths []string      `usage:"Additional load paths for @use and @import"`
	}
	Watch struct {
		Debounce time.Duration `default:"100ms" usage:"Quiet period before a change set is processed"`
	}
	Cache string `default:".sitebuild.cache" usage:"Task list cache file relative to the project root"`
}

var logLevels = map[string]zerolog.Level{
	"trace":   zerolog.TraceLevel,
	"debug":   zerolog.DebugLevel,
	"info":    zerolog.InfoLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"error":   zerolog.ErrorLevel,
}

// Loader initializes an empty config object and returns a new Loader for this object
func Loader(projectRoot string) (*Config, *aconfig.Loader) {
	cfg := Config{}
	return &cfg, aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SITEBUILD",
		SkipFlags: true,
		Files:     []string{filepath.Join(projectRoot, FileName)},
		FileDecoders: map[string]aconfig.FileDecoder{
			".toml": aconfigtoml.New(),
		},
	})
}

// Load reads the configuration for the given project and validates it
func Load(projectRoot string) (*Config, error) {
	cfg, loader := Loader(projectRoot)
	if err := loader.Load(); err != nil {
		return nil, eris.Wrap(err, "failed to load config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifies that all config fields have valid values
func (cfg *Config) Validate() error {
	_, ok := logLevels[cfg.Log.Level]
	if !ok {
		return eris.Errorf(`Invalid value for log.level: %s`, cfg.Log.Level)
	}

	if cfg.Sass.Timeout < 0 {
		return eris.Errorf(`Invalid value for sass.timeout: %s`, cfg.Sass.Timeout)
	}

	if cfg.Watch.Debounce < 0 {
		return eris.Errorf(`Invalid value for watch.debounce: %s`, cfg.Watch.Debounce)
	}

	if cfg.Cache == "" {
		return eris.New(`Invalid value for cache: must not be empty`)
	}

	return nil
}

// LogLevel converts the .Log.Level field to a zerolog.Level
func (cfg *Config) LogLevel() zerolog.Level {
	return logLevels[cfg.Log.Level]
}

// CachePath returns the absolute location of the task list cache
func (cfg *Config) CachePath(projectRoot string) string {
	if filepath.IsAbs(cfg.Cache) {
		return cfg.Cache
	}
	return filepath.Join(projectRoot, cfg.Cache)
}
