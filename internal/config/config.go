// Package config loads patchdispatch settings from defaults, an optional YAML
// file and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up in the working directory.
const DefaultPath = ".patchdispatch.yaml"

// Config holds every setting of the tool.
type Config struct {
	Root            string      `yaml:"root" validate:"required"`
	StateDir        string      `yaml:"state_dir" validate:"required"`
	HistoryCapacity int         `yaml:"history_capacity" validate:"gte=1,lte=100000"`
	Syntax          string      `yaml:"syntax" validate:"oneof=auto block bang"`
	InlineRevert    bool        `yaml:"inline_revert"`
	SnapshotDeletes bool        `yaml:"snapshot_deletes"`
	LogLevel        string      `yaml:"log_level" validate:"oneof=debug info warn error"`
	MetricsAddr     string      `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	TraceFile       string      `yaml:"trace_file"`
	Watch           WatchConfig `yaml:"watch"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Dir             string        `yaml:"dir" validate:"required"`
	Patterns        []string      `yaml:"patterns" validate:"min=1,dive,required"`
	Debounce        time.Duration `yaml:"debounce" validate:"gte=0"`
	RemoveProcessed bool          `yaml:"remove_processed"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Root:            ".",
		StateDir:        ".patchdispatch",
		HistoryCapacity: 100,
		Syntax:          "auto",
		LogLevel:        "info",
		Watch: WatchConfig{
			Dir:             "patches",
			Patterns:        []string{"*.patch.txt", "*.patch.md"},
			Debounce:        100 * time.Millisecond,
			RemoveProcessed: true,
		},
	}
}

var validate = validator.New()

// Load reads the YAML file at path over the defaults. An empty path means
// DefaultPath, which may be absent; an explicitly named file must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// BindFlags registers the flags that override file settings.
func BindFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("root", d.Root, "Directory patch paths are resolved against.")
	fs.String("state-dir", d.StateDir, "Directory for history and retry state (relative to --root).")
	fs.Int("history-capacity", d.HistoryCapacity, "Maximum number of patches kept for revert.")
	fs.String("syntax", d.Syntax, "Marker syntax: auto, block or bang.")
	fs.String("log-level", d.LogLevel, "Log level: debug, info, warn or error.")
	fs.Bool("inline-revert", d.InlineRevert, "Allow REVERT commands inside patches.")
	fs.Bool("snapshot-deletes", d.SnapshotDeletes, "Capture deleted content so DELETE can be reverted.")
	fs.String("trace-file", d.TraceFile, "Append OpenTelemetry spans as JSON to this file.")
}

// ApplyFlags copies the flags the user actually set onto c. Flags missing
// from fs are ignored, so a subcommand may register only some of them.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			*dst = f.Value.String()
		}
	}
	boolean := func(name string, dst *bool) {
		if f := fs.Lookup(name); f != nil && f.Changed {
			v, err := fs.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("root", &c.Root)
	str("state-dir", &c.StateDir)
	str("syntax", &c.Syntax)
	str("log-level", &c.LogLevel)
	str("metrics-addr", &c.MetricsAddr)
	str("trace-file", &c.TraceFile)
	boolean("inline-revert", &c.InlineRevert)
	boolean("snapshot-deletes", &c.SnapshotDeletes)

	if f := fs.Lookup("history-capacity"); f != nil && f.Changed {
		n, err := fs.GetInt("history-capacity")
		errs = append(errs, err)
		c.HistoryCapacity = n
	}
	if f := fs.Lookup("keep"); f != nil && f.Changed {
		keep, err := fs.GetBool("keep")
		errs = append(errs, err)
		c.Watch.RemoveProcessed = !keep
	}
	return errors.Join(errs...)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StatePath returns the state directory, resolved against Root when relative.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.StateDir) {
		return c.StateDir
	}
	return filepath.Join(c.Root, c.StateDir)
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
