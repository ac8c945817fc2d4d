package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyTOMLFile_FillsUnsetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "battleship.toml")
	contents := `
listen = "0.0.0.0:6000"
max_clients = 16
idle_timeout = "15s"
discovery_enable = true
discovery_name = "lan-game"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c := baseConfig()
	if err := applyTOMLFile(c, path, map[string]struct{}{}); err != nil {
		t.Fatalf("apply toml: %v", err)
	}
	if c.listenAddr != "0.0.0.0:6000" {
		t.Fatalf("expected listen override, got %q", c.listenAddr)
	}
	if c.maxClients != 16 {
		t.Fatalf("expected maxClients 16, got %d", c.maxClients)
	}
	if c.idleTimeout != 15*time.Second {
		t.Fatalf("expected idleTimeout 15s, got %v", c.idleTimeout)
	}
	if !c.discoveryEnable || c.discoveryName != "lan-game" {
		t.Fatalf("expected discovery override applied, got %v/%q", c.discoveryEnable, c.discoveryName)
	}
}

func TestApplyTOMLFile_FlagsWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "battleship.toml")
	if err := os.WriteFile(path, []byte(`listen = "0.0.0.0:6000"`+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	c := baseConfig()
	c.listenAddr = "explicit:9999"
	if err := applyTOMLFile(c, path, map[string]struct{}{"listen": {}}); err != nil {
		t.Fatalf("apply toml: %v", err)
	}
	if c.listenAddr != "explicit:9999" {
		t.Fatalf("expected flag to win, got %q", c.listenAddr)
	}
}
