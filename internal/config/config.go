// Package config loads the service configuration from built-in defaults, an
// optional YAML file and CADENCE_* environment variables, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ewilliams-labs/cadence/internal/adapters/asr"
	"github.com/ewilliams-labs/cadence/internal/adapters/fetch"
	"github.com/ewilliams-labs/cadence/internal/adapters/whisperx"
	"github.com/ewilliams-labs/cadence/internal/core/features"
	"github.com/ewilliams-labs/cadence/internal/core/scoring"
	"github.com/ewilliams-labs/cadence/internal/core/services"
)

// EnvPrefix prefixes every environment override, e.g. CADENCE_SERVER_ADDR.
const EnvPrefix = "CADENCE"

// Transcriber backends.
const (
	BackendWhisperX = "whisperx"
	BackendHTTP     = "http"
)

type Server struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes    int64         `yaml:"max_upload_bytes"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Storage struct {
	// Driver is "sqlite" or "none".
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type Pool struct {
	Workers int `yaml:"workers"`
	Queue   int `yaml:"queue"`
}

type Transcriber struct {
	Backend  string          `yaml:"backend"`
	Pool     Pool            `yaml:"pool"`
	WhisperX whisperx.Config `yaml:"whisperx"`
	HTTP     asr.Config      `yaml:"http"`
}

type Root struct {
	Server      Server            `yaml:"server"`
	Log         Log               `yaml:"log"`
	Storage     Storage           `yaml:"storage"`
	Fetch       fetch.Config      `yaml:"fetch"`
	Transcriber Transcriber       `yaml:"transcriber"`
	Timeouts    services.Timeouts `yaml:"timeouts"`
	Features    features.Config   `yaml:"features"`
	Scoring     scoring.Config    `yaml:"scoring"`
}

// Default returns the built-in configuration.
func Default() Root {
	return Root{
		Server: Server{
			Addr:              ":8080",
			ReadHeaderTimeout: 15 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			MaxUploadBytes:    100 << 20,
		},
		Log:     Log{Level: "info", Format: "text"},
		Storage: Storage{Driver: "sqlite", Path: "cadence.db"},
		Fetch: fetch.Config{
			Remote:       true,
			Timeout:      time.Minute,
			MaxBytes:     fetch.DefaultMaxBytes,
			MaxRetries:   3,
			RetryBackoff: 500 * time.Millisecond,
		},
		Transcriber: Transcriber{
			Backend:  BackendWhisperX,
			Pool:     Pool{Workers: 2, Queue: 16},
			WhisperX: whisperx.Config{Binary: "whisperx"},
			HTTP: asr.Config{
				Timeout:      5 * time.Minute,
				Format:       asr.FormatSegments,
				SegmentGapMs: 1500,
				MaxRetries:   3,
				RetryBackoff: time.Second,
			},
		},
		Timeouts: services.DefaultTimeouts(),
		Features: features.DefaultConfig(),
		Scoring:  scoring.DefaultConfig(),
	}
}

// Load builds the configuration. path may be empty, in which case
// config/<CONFIG_ENV>/config.yaml is used when it exists.
func Load(path string) (Root, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	base, err := yaml.Marshal(Default())
	if err != nil {
		return Root{}, fmt.Errorf("config: encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(base)); err != nil {
		return Root{}, fmt.Errorf("config: load defaults: %w", err)
	}

	if path == "" {
		path = guessPath()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return Root{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Root
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return Root{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Root{}, err
	}
	return cfg, nil
}

func guessPath() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	p := filepath.Join("config", env, "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// Validate checks cross-field constraints the components do not check
// themselves, then delegates to the component validators.
func (c Root) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of sqlite, none", c.Storage.Driver))
	}
	switch c.Transcriber.Backend {
	case BackendWhisperX:
	case BackendHTTP:
		if c.Transcriber.HTTP.URL == "" {
			errs = append(errs, errors.New("transcriber.http.url is required for the http backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcriber.backend %q is not one of whisperx, http", c.Transcriber.Backend))
	}
	if c.Transcriber.Pool.Workers < 1 {
		errs = append(errs, errors.New("transcriber.pool.workers must be at least 1"))
	}
	if c.Transcriber.Pool.Queue < 1 {
		errs = append(errs, errors.New("transcriber.pool.queue must be at least 1"))
	}
	for name, d := range map[string]time.Duration{
		"retrieve":   c.Timeouts.Retrieve,
		"transcribe": c.Timeouts.Transcribe,
		"extract":    c.Timeouts.Extract,
		"score":      c.Timeouts.Score,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must not be negative", name))
		}
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if err := c.Features.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

// YAML renders c as it would be written in a config file.
func (c Root) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Redacted returns a copy of c with secrets masked.
func (c Root) Redacted() Root {
	if c.Transcriber.HTTP.OAuth.ClientSecret != "" {
		c.Transcriber.HTTP.OAuth.ClientSecret = "********"
	}
	return c
}
