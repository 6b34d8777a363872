// Package config loads burrow settings: where archives are read from and
// written to, how bundles are compressed, and how logging is set up.
//
// A config file is TOML or YAML, chosen by extension. A missing file yields
// the defaults. BURROW_SAVE_PATH and BURROW_LOAD_PATH override the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/burrow/pkg/bundle"
	"github.com/odvcencio/burrow/pkg/object"
)

// Environment variables consulted by Load.
const (
	EnvSavePath = "BURROW_SAVE_PATH"
	EnvLoadPath = "BURROW_LOAD_PATH"
)

// Config is the complete burrow configuration.
type Config struct {
	// SavePath is the directory new archives are written to. It is also
	// searched last when locating archives.
	SavePath string `toml:"save_path" yaml:"save_path"`

	// LoadPath lists directories searched for archives before SavePath.
	LoadPath []string `toml:"load_path" yaml:"load_path"`

	// Backup keeps the previous archive as "<file>.bak" on every save.
	Backup bool `toml:"backup" yaml:"backup"`

	// Compression names the bundle compression: none, lz4 or zstd.
	Compression string `toml:"compression" yaml:"compression"`

	Log LogConfig `toml:"log" yaml:"log"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `toml:"level" yaml:"level"`

	// Development switches to zap's human-readable development encoder.
	Development bool `toml:"development" yaml:"development"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		SavePath:    ".",
		Compression: "zstd",
		Log:         LogConfig{Level: "info"},
	}
}

type format int

const (
	formatTOML format = iota
	formatYAML
)

func formatOf(path string) (format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return formatTOML, nil
	case ".yaml", ".yml":
		return formatYAML, nil
	default:
		return 0, fmt.Errorf("config %s: unknown format, want .toml, .yaml or .yml", path)
	}
}

// Load reads the config at path over the defaults and applies environment
// overrides. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) decodeFile(path string) error {
	f, err := formatOf(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	switch f {
	case formatTOML:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("read config %s: unknown key %q", path, undecoded[0].String())
		}
	case formatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return nil
}

func (cfg *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvSavePath)); v != "" {
		cfg.SavePath = v
	}
	if v := os.Getenv(EnvLoadPath); v != "" {
		cfg.LoadPath = object.ParseLoadPath(v)
	}
}

// Validate checks values that would otherwise fail later and far from the
// config file.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.SavePath) == "" {
		return errors.New("save_path is required")
	}
	if _, err := bundle.ParseCompression(cfg.Compression); err != nil {
		return err
	}
	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// BundleCompression returns the parsed Compression setting.
func (cfg *Config) BundleCompression() bundle.Compression {
	c, err := bundle.ParseCompression(cfg.Compression)
	if err != nil {
		return bundle.CompressionNone
	}
	return c
}

// NewStore returns an archive store over the configured directories.
func (cfg *Config) NewStore() *object.Store {
	st := object.NewStore(cfg.SavePath, cfg.LoadPath...)
	st.Backup = cfg.Backup
	return st
}

// NewLogger builds the configured zap logger.
func (cfg *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}

// Write atomically writes cfg to path in the format its extension names.
func Write(path string, cfg *Config) error {
	f, err := formatOf(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	switch f {
	case formatTOML:
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("write config: marshal: %w", err)
		}
	case formatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("write config: marshal: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("write config: marshal: %w", err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("write config: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
