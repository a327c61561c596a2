package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "docsession dev") {
		t.Errorf("output = %q", out)
	}
}

func TestState(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, ".docsession")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		t.Fatal(err)
	}
	doc := `{"session.current":["/a.txt"],"session.open":{"/a.txt":{"cursor":1}}}`
	if err := os.WriteFile(filepath.Join(stateDir, "state.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "state", "-w", dir)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if !strings.Contains(out, `"session.current": ["/a.txt"]`) {
		t.Errorf("output = %s", out)
	}

	out, err = execute(t, "state", "-w", dir, "session.current")
	if err != nil {
		t.Fatalf("state KEY: %v", err)
	}
	if strings.TrimSpace(out) != `["/a.txt"]` {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, "state", "-w", dir, "missing"); err == nil {
		t.Error("state missing key: error = nil")
	}
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "docsession.yaml")
	if err := os.WriteFile(cfgPath, []byte("log:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(flags{configPath: cfgPath, root: dir, logLevel: "debug", metricsAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Workspace.Root != dir {
		t.Errorf("Root = %q, want %q", cfg.Workspace.Root, dir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want flag to win", cfg.Log.Level)
	}
	if cfg.Metrics.Addr != "127.0.0.1:0" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}
}
