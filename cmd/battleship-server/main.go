package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/kstaniek/battleship-server/internal/acceptor"
	"github.com/kstaniek/battleship-server/internal/game"
	"github.com/kstaniek/battleship-server/internal/metrics"
	"github.com/kstaniek/battleship-server/internal/registry"
	"github.com/kstaniek/battleship-server/internal/timers"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("battleship-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	timers.IdleTimeout = cfg.idleTimeout
	timers.GraceWindow = cfg.graceTimeout
	timers.RetransmitInitial = cfg.retransmitInitial
	timers.RetransmitMax = cfg.retransmitMax

	reg := registry.New()
	g := game.New(reg)
	driver := game.NewDriver(g, reg)

	acc := acceptor.New(reg, g,
		acceptor.WithListenAddr(cfg.listenAddr),
		acceptor.WithOutBufSize(cfg.outBuffer),
		acceptor.WithLogger(l),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	wg.Add(1)
	go func() { defer wg.Done(); driver.Run(ctx) }()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := acc.Serve(ctx); err != nil {
			l.Error("acceptor_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.discoveryEnable {
			return
		}
		select {
		case <-acc.Ready():
		case <-ctx.Done():
			return
		}
		portNum := 0
		if _, p, err := net.SplitHostPort(acc.Addr()); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			lastColon := strings.LastIndex(acc.Addr(), ":")
			if lastColon >= 0 {
				if pn, perr := strconv.Atoi(acc.Addr()[lastColon+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanup, err := startDiscovery(ctx, cfg, portNum)
		if err != nil {
			l.Warn("discovery_start_failed", "error", err)
			return
		}
		l.Info("discovery_started", "service", discoveryServiceType, "name", cfg.discoveryName, "port", portNum)
		go func() { <-ctx.Done(); cleanup() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-acc.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	_ = acc.Shutdown()
	wg.Wait()
}
