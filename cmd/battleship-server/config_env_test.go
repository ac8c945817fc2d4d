package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("BATTLESHIP_SERVER_MAX_CLIENTS", "42")
	os.Setenv("BATTLESHIP_SERVER_DISCOVERY_ENABLE", "true")
	os.Setenv("BATTLESHIP_SERVER_IDLE_TIMEOUT", "45s")
	os.Setenv("BATTLESHIP_SERVER_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("BATTLESHIP_SERVER_MAX_CLIENTS")
		os.Unsetenv("BATTLESHIP_SERVER_DISCOVERY_ENABLE")
		os.Unsetenv("BATTLESHIP_SERVER_IDLE_TIMEOUT")
		os.Unsetenv("BATTLESHIP_SERVER_LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.maxClients != 42 {
		t.Fatalf("expected maxClients override, got %d", base.maxClients)
	}
	if !base.discoveryEnable {
		t.Fatalf("expected discoveryEnable true")
	}
	if base.idleTimeout != 45*time.Second {
		t.Fatalf("expected idleTimeout 45s got %v", base.idleTimeout)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{maxClients: 100}
	os.Setenv("BATTLESHIP_SERVER_MAX_CLIENTS", "42")
	t.Cleanup(func() { os.Unsetenv("BATTLESHIP_SERVER_MAX_CLIENTS") })
	if err := applyEnvOverrides(base, map[string]struct{}{"max-clients": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.maxClients != 100 {
		t.Fatalf("expected maxClients unchanged 100 got %d", base.maxClients)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{maxClients: 100}
	os.Setenv("BATTLESHIP_SERVER_MAX_CLIENTS", "notint")
	t.Cleanup(func() { os.Unsetenv("BATTLESHIP_SERVER_MAX_CLIENTS") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
