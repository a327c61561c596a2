package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as a Go duration string
// ("1s", "2500ms") in both TOML and YAML.
type Duration time.Duration

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats the duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML parses a YAML scalar duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the complete docsession configuration.
type Config struct {
	Workspace WorkspaceConfig `toml:"workspace" yaml:"workspace"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
	State     StateConfig     `toml:"state" yaml:"state"`
	Watch     WatchConfig     `toml:"watch" yaml:"watch"`
	Hooks     HooksConfig     `toml:"hooks" yaml:"hooks"`
	Log       LogConfig       `toml:"log" yaml:"log"`
	Metrics   MetricsConfig   `toml:"metrics" yaml:"metrics"`
}

// WorkspaceConfig describes the document tree.
type WorkspaceConfig struct {
	// Root is the directory documents are served from.
	Root string `toml:"root" yaml:"root"`
	// Ignore holds glob patterns excluded from the file list.
	Ignore []string `toml:"ignore" yaml:"ignore"`
	// MaxFileSize is the largest document, in bytes, the store will read.
	MaxFileSize int64 `toml:"max_file_size" yaml:"max_file_size"`
}

// SessionConfig tunes the session manager.
type SessionConfig struct {
	Panes              int      `toml:"panes" yaml:"panes"`
	SaveDelay          Duration `toml:"save_delay" yaml:"save_delay"`
	SnapshotInterval   Duration `toml:"snapshot_interval" yaml:"snapshot_interval"`
	MaxRestored        int      `toml:"max_restored" yaml:"max_restored"`
	RestoreConcurrency int      `toml:"restore_concurrency" yaml:"restore_concurrency"`
	// StartDocument is shown in the first pane before restore. Empty disables it.
	StartDocument string `toml:"start_document" yaml:"start_document"`
}

// StateConfig locates the persisted session state.
type StateConfig struct {
	// File is relative to the workspace root unless absolute.
	File string `toml:"file" yaml:"file"`
}

// WatchConfig controls filesystem change notifications.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled" yaml:"enabled"`
	Debounce Duration `toml:"debounce" yaml:"debounce"`
}

// MaxHookTimeout bounds hooks.timeout. Hooks run on the session loop, so
// every session waits while a script runs.
const MaxHookTimeout = time.Second

// HooksConfig configures content hooks.
type HooksConfig struct {
	// BeforeSave is a Lua script defining before_save(path, content).
	BeforeSave string `toml:"before_save" yaml:"before_save"`

	// Timeout is the deadline of one before_save call, at most
	// MaxHookTimeout. A script that runs out of time leaves the content
	// unchanged.
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
	File   string `toml:"file" yaml:"file"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the endpoint.
	Addr string `toml:"addr" yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Root:        ".",
			Ignore:      []string{".git", ".docsession", "node_modules"},
			MaxFileSize: 10 << 20,
		},
		Session: SessionConfig{
			Panes:              1,
			SaveDelay:          Duration(time.Second),
			SnapshotInterval:   Duration(2500 * time.Millisecond),
			MaxRestored:        25,
			RestoreConcurrency: 8,
			StartDocument:      "special:start",
		},
		State: StateConfig{File: ".docsession/state.json"},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(100 * time.Millisecond),
		},
		Hooks: HooksConfig{Timeout: Duration(250 * time.Millisecond)},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks every setting and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string) {
		errs = append(errs, &ValidationError{Field: field, Message: msg})
	}

	if strings.TrimSpace(c.Workspace.Root) == "" {
		add("workspace.root", "must not be empty")
	}
	if c.Workspace.MaxFileSize < 0 {
		add("workspace.max_file_size", "must not be negative")
	}
	if c.Session.Panes < 1 {
		add("session.panes", "must be at least 1")
	}
	if c.Session.SaveDelay.Std() <= 0 {
		add("session.save_delay", "must be positive")
	}
	if c.Session.SnapshotInterval.Std() <= 0 {
		add("session.snapshot_interval", "must be positive")
	}
	if c.Session.MaxRestored < 0 {
		add("session.max_restored", "must not be negative")
	}
	if c.Session.RestoreConcurrency < 1 {
		add("session.restore_concurrency", "must be at least 1")
	}
	if strings.TrimSpace(c.State.File) == "" {
		add("state.file", "must not be empty")
	}
	if c.Watch.Debounce.Std() < 0 {
		add("watch.debounce", "must not be negative")
	}
	if c.Hooks.BeforeSave != "" && c.Hooks.Timeout.Std() <= 0 {
		add("hooks.timeout", "must be positive when a hook is set")
	}
	if c.Hooks.Timeout.Std() > MaxHookTimeout {
		add("hooks.timeout", fmt.Sprintf("must be at most %v", MaxHookTimeout))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", fmt.Sprintf("unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
