package analyze

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig is a named remote server in the user config file.
type ServerConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key,omitempty"`
}

// ConfigFile holds per-user defaults for `rtpscope analyze`. Flags given on
// the command line always win.
type ConfigFile struct {
	DefaultServer string                  `yaml:"default_server,omitempty"`
	Servers       map[string]ServerConfig `yaml:"servers,omitempty"`

	Window  string `yaml:"window,omitempty"`
	Timeout string `yaml:"timeout,omitempty"`
	JSON    bool   `yaml:"json,omitempty"`
	Plain   bool   `yaml:"plain,omitempty"`
	NoColor bool   `yaml:"no_color,omitempty"`
}

func getConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "rtpscope", "config.yaml")
}

// loadConfigFile returns nil without error when no config file exists.
func loadConfigFile(path string) (*ConfigFile, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *ConfigFile) validate() error {
	for alias, s := range c.Servers {
		if !isValidServerURL(s.URL) {
			return fmt.Errorf("server %q: invalid url %q", alias, s.URL)
		}
	}
	if c.DefaultServer != "" {
		if _, ok := c.Servers[c.DefaultServer]; !ok {
			return fmt.Errorf("default_server %q is not defined under servers", c.DefaultServer)
		}
	}
	if c.Window != "" {
		if d, err := time.ParseDuration(c.Window); err != nil || d <= 0 || d > maxWindow {
			return fmt.Errorf("window %q must be a duration in (0, %v]", c.Window, maxWindow)
		}
	}
	if c.Timeout != "" {
		if d, err := time.ParseDuration(c.Timeout); err != nil || d < minTimeout || d > maxTimeout {
			return fmt.Errorf("timeout %q must be between %v and %v", c.Timeout, minTimeout, maxTimeout)
		}
	}
	if c.JSON && c.Plain {
		return fmt.Errorf("json and plain are mutually exclusive")
	}
	return nil
}

// resolveServer maps an alias to a server. An empty alias picks
// default_server.
func (c *ConfigFile) resolveServer(alias string) (ServerConfig, error) {
	if alias == "" {
		alias = c.DefaultServer
	}
	if alias == "" {
		return ServerConfig{}, fmt.Errorf("no default_server configured")
	}
	s, ok := c.Servers[alias]
	if !ok {
		return ServerConfig{}, fmt.Errorf("unknown server %q", alias)
	}
	return s, nil
}

// applyConfigFile fills options the user did not set explicitly.
func applyConfigFile(opts *options, cfg *ConfigFile, flagsSet map[string]bool, serverAlias string, useServer bool) error {
	if useServer {
		if cfg == nil {
			return fmt.Errorf("--server needs a config file at %s", getConfigPath())
		}
		s, err := cfg.resolveServer(serverAlias)
		if err != nil {
			return err
		}
		if opts.serverURL == "" {
			opts.serverURL = s.URL
		}
		if !flagsSet["api-key"] {
			opts.apiKey = s.APIKey
		}
	}
	if cfg == nil {
		return nil
	}
	if !flagsSet["window"] && cfg.Window != "" {
		opts.window, _ = time.ParseDuration(cfg.Window)
	}
	if !flagsSet["timeout"] && cfg.Timeout != "" {
		opts.timeout, _ = time.ParseDuration(cfg.Timeout)
	}
	if !flagsSet["json"] && !flagsSet["plain"] {
		opts.jsonOut = cfg.JSON
		opts.plain = cfg.Plain
	}
	if !flagsSet["no-color"] && cfg.NoColor {
		opts.noColor = true
	}
	return nil
}
