package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/saveenergy/rtpscope/internal/logging"
)

type Config struct {
	Port        string `yaml:"port"`
	BindAddress string `yaml:"bind_address"`

	LogDir         string `yaml:"log_dir"`
	DataDir        string `yaml:"data_dir"`
	StoreEnabled   bool   `yaml:"store_enabled"`
	MaxStoredLogs  int    `yaml:"max_stored_logs"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`

	AnalysisTimeout       time.Duration `yaml:"analysis_timeout"`
	MaxConcurrentAnalyses int           `yaml:"max_concurrent_analyses"`
	RateWindow            time.Duration `yaml:"rate_window"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	RateLimitPerIP    int      `yaml:"rate_limit_per_ip"`
	GlobalRateLimit   int      `yaml:"global_rate_limit"`
	AllowedOrigins    []string `yaml:"allowed_origins"`
	TrustProxyHeaders bool     `yaml:"trust_proxy_headers"`
	TrustedProxyCIDRs []string `yaml:"trusted_proxy_cidrs"`

	WebSocketPingInterval time.Duration `yaml:"websocket_ping_interval"`

	LogLevel string `yaml:"log_level"`

	PprofEnabled      bool          `yaml:"pprof_enabled"`
	PprofAddress      string        `yaml:"pprof_address"`
	PerfStatsInterval time.Duration `yaml:"perf_stats_interval"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:                  "8080",
		BindAddress:           "0.0.0.0",
		LogDir:                "./logs",
		DataDir:               "./data",
		StoreEnabled:          true,
		MaxStoredLogs:         500,
		MaxUploadBytes:        64 << 20,
		AnalysisTimeout:       30 * time.Second,
		MaxConcurrentAnalyses: 4,
		RateWindow:            time.Second,
		ReadHeaderTimeout:     15 * time.Second,
		WriteTimeout:          60 * time.Second,
		IdleTimeout:           60 * time.Second,
		RateLimitPerIP:        120,
		GlobalRateLimit:       2000,
		AllowedOrigins:        []string{"*"},
		WebSocketPingInterval: 30 * time.Second,
		LogLevel:              "info",
		PprofAddress:          "127.0.0.1:6060",
	}
}

// LoadFromFile overlays values from a YAML file. Keys absent from the file
// keep their current value.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) LoadFromEnv() error {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := c.LoadFromFile(path); err != nil {
			return err
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("invalid PORT %q: must be a number", port)
		}
		c.Port = port
	}
	if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
		c.BindAddress = addr
	}
	if dir := os.Getenv("LOG_DIR"); dir != "" {
		c.LogDir = dir
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if enabled := os.Getenv("STORE_ENABLED"); enabled != "" {
		c.StoreEnabled = enabled == "true" || enabled == "1"
	}
	if max := os.Getenv("MAX_STORED_LOGS"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil || m <= 0 {
			return fmt.Errorf("invalid MAX_STORED_LOGS %q: must be a positive integer", max)
		}
		c.MaxStoredLogs = m
	}
	if max := os.Getenv("MAX_UPLOAD_BYTES"); max != "" {
		m, err := strconv.ParseInt(max, 10, 64)
		if err != nil || m <= 0 {
			return fmt.Errorf("invalid MAX_UPLOAD_BYTES %q: must be a positive integer", max)
		}
		c.MaxUploadBytes = m
	}

	if dur := os.Getenv("ANALYSIS_TIMEOUT"); dur != "" {
		d, err := time.ParseDuration(dur)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid ANALYSIS_TIMEOUT %q: must be a positive duration (e.g. 30s)", dur)
		}
		c.AnalysisTimeout = d
	}
	if max := os.Getenv("MAX_CONCURRENT_ANALYSES"); max != "" {
		m, err := strconv.Atoi(max)
		if err != nil || m <= 0 {
			return fmt.Errorf("invalid MAX_CONCURRENT_ANALYSES %q: must be a positive integer", max)
		}
		c.MaxConcurrentAnalyses = m
	}
	if win := os.Getenv("RATE_WINDOW"); win != "" {
		d, err := time.ParseDuration(win)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid RATE_WINDOW %q: must be a positive duration (e.g. 200ms)", win)
		}
		c.RateWindow = d
	}

	if limit := os.Getenv("RATE_LIMIT_PER_IP"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			return fmt.Errorf("invalid RATE_LIMIT_PER_IP %q: must be a positive integer", limit)
		}
		c.RateLimitPerIP = l
	}
	if limit := os.Getenv("GLOBAL_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil || l <= 0 {
			return fmt.Errorf("invalid GLOBAL_RATE_LIMIT %q: must be a positive integer", limit)
		}
		c.GlobalRateLimit = l
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = splitList(origins)
	}
	if trust := os.Getenv("TRUST_PROXY_HEADERS"); trust != "" {
		c.TrustProxyHeaders = trust == "true" || trust == "1"
	}
	if cidrs := os.Getenv("TRUSTED_PROXY_CIDRS"); cidrs != "" {
		c.TrustedProxyCIDRs = splitList(cidrs)
	}
	if interval := os.Getenv("WEBSOCKET_PING_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid WEBSOCKET_PING_INTERVAL %q: must be a positive duration (e.g. 30s)", interval)
		}
		c.WebSocketPingInterval = d
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if enabled := os.Getenv("PPROF_ENABLED"); enabled != "" {
		c.PprofEnabled = enabled == "true" || enabled == "1"
	}
	if addr := os.Getenv("PPROF_ADDRESS"); addr != "" {
		c.PprofAddress = addr
	}
	if interval := os.Getenv("PERF_STATS_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil || d < 0 {
			return fmt.Errorf("invalid PERF_STATS_INTERVAL %q: must be a duration (e.g. 1m, 0 disables)", interval)
		}
		c.PerfStatsInterval = d
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port cannot be empty")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", c.Port)
	}
	if c.LogDir == "" && !c.StoreEnabled {
		return fmt.Errorf("either a log directory or the log store must be configured")
	}
	if c.StoreEnabled {
		if c.DataDir == "" {
			return fmt.Errorf("data directory cannot be empty when the store is enabled")
		}
		if c.MaxStoredLogs <= 0 {
			return fmt.Errorf("max stored logs must be > 0")
		}
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be > 0")
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("analysis timeout must be > 0")
	}
	if c.MaxConcurrentAnalyses <= 0 || c.MaxConcurrentAnalyses > 64 {
		return fmt.Errorf("max concurrent analyses must be 1-64")
	}
	if c.RateWindow <= 0 || c.RateWindow > time.Minute {
		return fmt.Errorf("rate window must be in (0, 1m]")
	}
	if c.RateLimitPerIP <= 0 {
		return fmt.Errorf("rate limit per IP must be > 0")
	}
	if c.GlobalRateLimit <= 0 {
		return fmt.Errorf("global rate limit must be > 0")
	}
	if c.GlobalRateLimit < c.RateLimitPerIP {
		return fmt.Errorf("global rate limit must be >= rate limit per IP")
	}
	for _, cidr := range c.TrustedProxyCIDRs {
		if _, _, err := net.ParseCIDR(strings.TrimSpace(cidr)); err != nil {
			return fmt.Errorf("invalid trusted proxy CIDR %q: %w", cidr, err)
		}
	}
	if c.WebSocketPingInterval <= 0 {
		return fmt.Errorf("websocket ping interval must be > 0")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.PprofEnabled && c.PprofAddress == "" {
		return fmt.Errorf("pprof address cannot be empty when pprof is enabled")
	}
	if c.PerfStatsInterval < 0 {
		return fmt.Errorf("perf stats interval must be >= 0")
	}
	return nil
}

func splitList(value string) []string {
	entries := strings.Split(value, ",")
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		if v := strings.TrimSpace(entry); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (c *Config) Address() string {
	return c.BindAddress + ":" + c.Port
}
