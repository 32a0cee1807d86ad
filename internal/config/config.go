// Package config loads converge configuration from YAML or CUE files.
//
// Both formats are unified with an embedded CUE schema that supplies
// defaults and rejects unknown or out-of-range settings.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Config is the resolved configuration.
type Config struct {
	Database          string  `json:"database"`
	LogLevel          string  `json:"log_level"`
	Workers           int     `json:"workers"`
	ResidentialGroups []int64 `json:"residential_groups"`
	NATS              NATS    `json:"nats"`
}

// NATS configures the subscriber used by `converge serve`.
type NATS struct {
	URL     string `json:"url"`
	Subject string `json:"subject"`
	Queue   string `json:"queue"`
}

// SlogLevel maps LogLevel to a slog level.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// yamlConfig mirrors Config with optional fields so that settings missing
// from a YAML file fall through to schema defaults.
type yamlConfig struct {
	Database          *string   `yaml:"database" json:"database,omitempty"`
	LogLevel          *string   `yaml:"log_level" json:"log_level,omitempty"`
	Workers           *int      `yaml:"workers" json:"workers,omitempty"`
	ResidentialGroups []int64   `yaml:"residential_groups" json:"residential_groups,omitempty"`
	NATS              *yamlNATS `yaml:"nats" json:"nats,omitempty"`
}

type yamlNATS struct {
	URL     *string `yaml:"url" json:"url,omitempty"`
	Subject *string `yaml:"subject" json:"subject,omitempty"`
	Queue   *string `yaml:"queue" json:"queue,omitempty"`
}

// Default returns the schema defaults.
func Default() (Config, error) {
	ctx := cuecontext.New()
	return resolve(ctx, ctx.CompileString("{}"))
}

// Load reads a .yaml, .yml or .cue file. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default()
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	ctx := cuecontext.New()
	var data cue.Value
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		data, err = parseYAML(ctx, content)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", path, err)
		}
	case ".cue":
		data = ctx.CompileBytes(content, cue.Filename(path))
		if err := data.Err(); err != nil {
			return Config{}, fmt.Errorf("%s: %s", path, details(err))
		}
	default:
		return Config{}, fmt.Errorf("%s: unsupported config format %q (want .yaml, .yml or .cue)", path, ext)
	}

	cfg, err := resolve(ctx, data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func parseYAML(ctx *cue.Context, content []byte) (cue.Value, error) {
	var raw yamlConfig
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return cue.Value{}, fmt.Errorf("parse YAML: %w", err)
	}
	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("encode YAML: %s", details(err))
	}
	return v, nil
}

func resolve(ctx *cue.Context, data cue.Value) (Config, error) {
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("config schema: %s", details(err))
	}

	merged := schema.Unify(data)
	if err := merged.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("invalid config: %s", details(err))
	}

	var cfg Config
	if err := merged.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %s", details(err))
	}
	return cfg, nil
}

func details(err error) string {
	return strings.TrimSpace(cueerrors.Details(err, nil))
}
