package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/grandcat/zeroconf"
)

const discoveryServiceType = "_battleship._tcp"

// startDiscovery registers the service via mDNS and returns a cleanup
// function. Safe to call even when disabled (no-op).
func startDiscovery(ctx context.Context, cfg *appConfig, port int) (func(), error) {
	if !cfg.discoveryEnable {
		return func() {}, nil
	}
	instance := cfg.discoveryName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("battleship-server-%s", host)
	}
	meta := []string{
		"version=" + version,
		"commit=" + commit,
	}
	svc, err := zeroconf.Register(instance, discoveryServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}
