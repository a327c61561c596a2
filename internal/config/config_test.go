package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if cfg.Session.SaveDelay.Std() != time.Second {
		t.Errorf("SaveDelay = %v, want 1s", cfg.Session.SaveDelay.Std())
	}
	if cfg.Session.SnapshotInterval.Std() != 2500*time.Millisecond {
		t.Errorf("SnapshotInterval = %v, want 2.5s", cfg.Session.SnapshotInterval.Std())
	}
	if cfg.Session.MaxRestored != 25 {
		t.Errorf("MaxRestored = %d, want 25", cfg.Session.MaxRestored)
	}
}

func TestLoadFS_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFS(afero.NewMemMapFs(), "/nope.toml")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.State.File != Default().State.File {
		t.Errorf("State.File = %q, want default", cfg.State.File)
	}
}

func TestLoadFS_TOML(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/docsession.toml", `
[workspace]
root = "/srv/notes"
ignore = ["*.tmp"]

[session]
panes = 2
save_delay = "250ms"

[hooks]
before_save = "trim.lua"

[log]
level = "debug"
`)

	cfg, err := LoadFS(fs, "/docsession.toml")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.Workspace.Root != "/srv/notes" {
		t.Errorf("Root = %q", cfg.Workspace.Root)
	}
	if len(cfg.Workspace.Ignore) != 1 || cfg.Workspace.Ignore[0] != "*.tmp" {
		t.Errorf("Ignore = %v", cfg.Workspace.Ignore)
	}
	if cfg.Session.Panes != 2 {
		t.Errorf("Panes = %d, want 2", cfg.Session.Panes)
	}
	if cfg.Session.SaveDelay.Std() != 250*time.Millisecond {
		t.Errorf("SaveDelay = %v, want 250ms", cfg.Session.SaveDelay.Std())
	}
	if cfg.Session.SnapshotInterval.Std() != 2500*time.Millisecond {
		t.Errorf("SnapshotInterval = %v, want default kept", cfg.Session.SnapshotInterval.Std())
	}
	if cfg.Hooks.BeforeSave != "trim.lua" {
		t.Errorf("BeforeSave = %q", cfg.Hooks.BeforeSave)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestLoadFS_YAML(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/docsession.yaml", `
session:
  snapshot_interval: 5s
  max_restored: 10
watch:
  enabled: false
metrics:
  addr: ":9100"
`)

	cfg, err := LoadFS(fs, "/docsession.yaml")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.Session.SnapshotInterval.Std() != 5*time.Second {
		t.Errorf("SnapshotInterval = %v, want 5s", cfg.Session.SnapshotInterval.Std())
	}
	if cfg.Session.MaxRestored != 10 {
		t.Errorf("MaxRestored = %d, want 10", cfg.Session.MaxRestored)
	}
	if cfg.Watch.Enabled {
		t.Error("Watch.Enabled = true, want false")
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}

func TestLoadFS_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content string
		check   func(error) bool
	}{
		{
			name:    "toml syntax",
			path:    "/bad.toml",
			content: "[session\npanes = 2",
			check: func(err error) bool {
				var pe *ParseError
				return errors.As(err, &pe) && pe.Line > 0
			},
		},
		{
			name:    "toml unknown key",
			path:    "/unknown.toml",
			content: "[session]\npains = 2\n",
			check: func(err error) bool {
				var pe *ParseError
				return errors.As(err, &pe)
			},
		},
		{
			name:    "yaml unknown key",
			path:    "/unknown.yml",
			content: "session:\n  pains: 2\n",
			check: func(err error) bool {
				var pe *ParseError
				return errors.As(err, &pe)
			},
		},
		{
			name:    "bad duration",
			path:    "/dur.toml",
			content: "[session]\nsave_delay = \"soon\"\n",
			check: func(err error) bool {
				var pe *ParseError
				return errors.As(err, &pe)
			},
		},
		{
			name:    "unsupported extension",
			path:    "/config.ini",
			content: "x=1",
			check:   func(err error) bool { return errors.Is(err, ErrUnsupportedFormat) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			writeFile(t, fs, tt.path, tt.content)
			_, err := LoadFS(fs, tt.path)
			if err == nil {
				t.Fatal("LoadFS() error = nil")
			}
			if !tt.check(err) {
				t.Errorf("LoadFS() error = %v (%T)", err, err)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Session.Panes = 0
	cfg.Session.SaveDelay = 0
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("Validate() = %v, want ErrValidationFailed", err)
	}
	for _, field := range []string{"session.panes", "session.save_delay", "log.level"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestValidate_HookTimeoutBounded(t *testing.T) {
	cfg := Default()
	cfg.Hooks.BeforeSave = "hooks/trim.lua"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default hook timeout rejected: %v", err)
	}

	cfg.Hooks.Timeout = Duration(2 * time.Second)
	err := cfg.Validate()
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("Validate() = %v, want ErrValidationFailed", err)
	}
	if !strings.Contains(err.Error(), "hooks.timeout") {
		t.Errorf("error %q does not mention hooks.timeout", err)
	}

	cfg.Hooks.Timeout = Duration(MaxHookTimeout)
	if err := cfg.Validate(); err != nil {
		t.Errorf("timeout at the bound rejected: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DOCSESSION_ROOT":         "/data",
		"DOCSESSION_LOG_LEVEL":    "warn",
		"DOCSESSION_PANES":        "3",
		"DOCSESSION_SAVE_DELAY":   "2s",
		"DOCSESSION_WATCH":        "false",
		"DOCSESSION_METRICS_ADDR": "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	cfg.Metrics.Addr = ":9000"
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Workspace.Root != "/data" {
		t.Errorf("Root = %q", cfg.Workspace.Root)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Session.Panes != 3 {
		t.Errorf("Panes = %d", cfg.Session.Panes)
	}
	if cfg.Session.SaveDelay.Std() != 2*time.Second {
		t.Errorf("SaveDelay = %v", cfg.Session.SaveDelay.Std())
	}
	if cfg.Watch.Enabled {
		t.Error("Watch.Enabled = true, want false")
	}
	if cfg.Metrics.Addr != "" {
		t.Errorf("Metrics.Addr = %q, want empty value to count as set", cfg.Metrics.Addr)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		if k == "DOCSESSION_PANES" {
			return "many", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("ApplyEnv() error = nil, want parse failure")
	}
}

func TestStatePath(t *testing.T) {
	cfg := Default()
	cfg.Workspace.Root = "/srv/notes"
	if got := cfg.StatePath(); got != "/srv/notes/.docsession/state.json" {
		t.Errorf("StatePath() = %q", got)
	}
	cfg.State.File = "/var/lib/docsession/state.json"
	if got := cfg.StatePath(); got != "/var/lib/docsession/state.json" {
		t.Errorf("StatePath() = %q", got)
	}
}
