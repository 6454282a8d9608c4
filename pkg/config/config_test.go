package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultAllowsItsOwnDefaultState(t *testing.T) {
	cfg := Default()
	if !cfg.AllowedState(cfg.Workflow.DefaultState) {
		t.Fatalf("default config's default_state %q must be one of its own states", cfg.Workflow.DefaultState)
	}
}

func TestStateKindOfUnknownValue(t *testing.T) {
	cfg := Default()
	if _, ok := cfg.StateKindOf("not-a-real-state"); ok {
		t.Fatal("expected unknown state value to report not-found")
	}
}

func TestLoadParsesYAMLAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "forgeline.yaml")
	contents := `
workflow:
  states:
    - value: open
      label: Open
      kind: todo
    - value: closed
      label: Closed
      kind: done
  default_state: open
cache:
  capacity: 500
hooks:
  enabled: true
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.AllowedState("open") || !cfg.AllowedState("closed") {
		t.Fatalf("expected configured states to be allowed, got %+v", cfg.Workflow.States)
	}
	if cfg.AllowedState("backlog") {
		t.Fatal("expected the default workflow's states to be replaced, not merged")
	}
	if cfg.Cache.Capacity != 500 {
		t.Fatalf("expected overridden cache capacity, got %d", cfg.Cache.Capacity)
	}
	if !cfg.Hooks.Enabled {
		t.Fatal("expected hooks.enabled to be overridden to true")
	}
}
