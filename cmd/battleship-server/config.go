package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	pkgerrors "github.com/pkg/errors"
)

type appConfig struct {
	listenAddr        string
	logFormat         string
	logLevel          string
	metricsAddr       string
	outBuffer         int
	logMetricsEvery   time.Duration
	maxClients        int
	idleTimeout       time.Duration
	graceTimeout      time.Duration
	retransmitInitial time.Duration
	retransmitMax     time.Duration
	discoveryEnable   bool
	discoveryName     string
	configPath        string
}

// tomlConfig mirrors appConfig's file-configurable fields; a config file
// supplies defaults layered beneath flags and environment variables.
type tomlConfig struct {
	Listen            string `toml:"listen"`
	LogFormat         string `toml:"log_format"`
	LogLevel          string `toml:"log_level"`
	MetricsAddr       string `toml:"metrics_addr"`
	OutBuffer         int    `toml:"out_buffer"`
	MaxClients        int    `toml:"max_clients"`
	IdleTimeout       string `toml:"idle_timeout"`
	GraceTimeout      string `toml:"grace_timeout"`
	RetransmitInitial string `toml:"retransmit_initial"`
	RetransmitMax     string `toml:"retransmit_max"`
	DiscoveryEnable   bool   `toml:"discovery_enable"`
	DiscoveryName     string `toml:"discovery_name"`
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	listen := flag.String("listen", "localhost:5000", "TCP listen address")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	outBuffer := flag.Int("out-buffer", 64, "Per-client outbound channel buffer (frames)")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	maxClients := flag.Int("max-clients", 127, "Maximum simultaneous client sessions (validated to 1..127 only; not applied, the registry's 127-id pool is the enforced limit)")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "Per-player idle timeout")
	graceTimeout := flag.Duration("grace-timeout", 30*time.Second, "Disconnect grace window before forfeiting")
	retransmitInitial := flag.Duration("retransmit-initial", 500*time.Millisecond, "Initial retransmit backoff")
	retransmitMax := flag.Duration("retransmit-max", 5*time.Second, "Maximum retransmit backoff")
	discoveryEnable := flag.Bool("discovery-enable", false, "Enable mDNS advertisement")
	discoveryName := flag.String("discovery-name", "", "mDNS instance name (default battleship-server-<hostname>)")
	configPath := flag.String("config", "", "Optional TOML config file (lowest precedence)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.listenAddr = *listen
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.outBuffer = *outBuffer
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.maxClients = *maxClients
	cfg.idleTimeout = *idleTimeout
	cfg.graceTimeout = *graceTimeout
	cfg.retransmitInitial = *retransmitInitial
	cfg.retransmitMax = *retransmitMax
	cfg.discoveryEnable = *discoveryEnable
	cfg.discoveryName = *discoveryName
	cfg.configPath = *configPath

	if cfg.configPath != "" {
		if err := applyTOMLFile(cfg, cfg.configPath, setFlags); err != nil {
			fmt.Printf("config file error: %v\n", err)
			return nil, *showVersion
		}
	}
	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// applyTOMLFile fills in fields from a TOML file for any flag the caller
// did not explicitly set; flags always win over the file.
func applyTOMLFile(c *appConfig, path string, set map[string]struct{}) error {
	var tc tomlConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return pkgerrors.Wrapf(err, "decode config file %s", path)
	}
	if _, ok := set["listen"]; !ok && tc.Listen != "" {
		c.listenAddr = tc.Listen
	}
	if _, ok := set["log-format"]; !ok && tc.LogFormat != "" {
		c.logFormat = tc.LogFormat
	}
	if _, ok := set["log-level"]; !ok && tc.LogLevel != "" {
		c.logLevel = tc.LogLevel
	}
	if _, ok := set["metrics-addr"]; !ok && tc.MetricsAddr != "" {
		c.metricsAddr = tc.MetricsAddr
	}
	if _, ok := set["out-buffer"]; !ok && tc.OutBuffer > 0 {
		c.outBuffer = tc.OutBuffer
	}
	if _, ok := set["max-clients"]; !ok && tc.MaxClients > 0 {
		c.maxClients = tc.MaxClients
	}
	if _, ok := set["idle-timeout"]; !ok && tc.IdleTimeout != "" {
		if d, err := time.ParseDuration(tc.IdleTimeout); err == nil {
			c.idleTimeout = d
		}
	}
	if _, ok := set["grace-timeout"]; !ok && tc.GraceTimeout != "" {
		if d, err := time.ParseDuration(tc.GraceTimeout); err == nil {
			c.graceTimeout = d
		}
	}
	if _, ok := set["retransmit-initial"]; !ok && tc.RetransmitInitial != "" {
		if d, err := time.ParseDuration(tc.RetransmitInitial); err == nil {
			c.retransmitInitial = d
		}
	}
	if _, ok := set["retransmit-max"]; !ok && tc.RetransmitMax != "" {
		if d, err := time.ParseDuration(tc.RetransmitMax); err == nil {
			c.retransmitMax = d
		}
	}
	if _, ok := set["discovery-enable"]; !ok {
		c.discoveryEnable = tc.DiscoveryEnable
	}
	if _, ok := set["discovery-name"]; !ok && tc.DiscoveryName != "" {
		c.discoveryName = tc.DiscoveryName
	}
	return nil
}

// validate performs basic semantic validation of the parsed configuration.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.outBuffer <= 0 {
		return fmt.Errorf("out-buffer must be > 0 (got %d)", c.outBuffer)
	}
	if c.maxClients <= 0 || c.maxClients > 127 {
		return fmt.Errorf("max-clients must be in 1..127 (got %d)", c.maxClients)
	}
	if c.idleTimeout <= 0 {
		return fmt.Errorf("idle-timeout must be > 0")
	}
	if c.graceTimeout <= 0 {
		return fmt.Errorf("grace-timeout must be > 0")
	}
	if c.retransmitInitial <= 0 {
		return fmt.Errorf("retransmit-initial must be > 0")
	}
	if c.retransmitMax < c.retransmitInitial {
		return fmt.Errorf("retransmit-max must be >= retransmit-initial")
	}
	return nil
}

// applyEnvOverrides maps BATTLESHIP_SERVER_* environment variables to config
// fields unless a corresponding flag was explicitly set (flag wins over env,
// env wins over the TOML file).
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }

	if _, ok := set["listen"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_LISTEN"); ok && v != "" {
			c.listenAddr = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["out-buffer"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_OUT_BUFFER"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.outBuffer = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BATTLESHIP_SERVER_OUT_BUFFER: %w", err)
			}
		}
	}
	if _, ok := set["max-clients"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_MAX_CLIENTS"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.maxClients = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BATTLESHIP_SERVER_MAX_CLIENTS: %w", err)
			}
		}
	}
	if _, ok := set["idle-timeout"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_IDLE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.idleTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BATTLESHIP_SERVER_IDLE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["grace-timeout"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_GRACE_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.graceTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BATTLESHIP_SERVER_GRACE_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["retransmit-initial"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_RETRANSMIT_INITIAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.retransmitInitial = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BATTLESHIP_SERVER_RETRANSMIT_INITIAL: %w", err)
			}
		}
	}
	if _, ok := set["retransmit-max"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_RETRANSMIT_MAX"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.retransmitMax = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BATTLESHIP_SERVER_RETRANSMIT_MAX: %w", err)
			}
		}
	}
	if _, ok := set["discovery-enable"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_DISCOVERY_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.discoveryEnable = true
			case "0", "false", "no", "off":
				c.discoveryEnable = false
			}
		}
	}
	if _, ok := set["discovery-name"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_DISCOVERY_NAME"); ok && v != "" {
			c.discoveryName = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("BATTLESHIP_SERVER_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid BATTLESHIP_SERVER_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	return firstErr
}
