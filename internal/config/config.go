package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all whatt configuration.
type Config struct {
	// Polling client
	Client ClientConfig `yaml:"client"`

	// Browser session and DOM selectors
	Browser BrowserConfig `yaml:"browser"`

	// Seen-set persistence
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics"`

	// Template responders registered at startup
	Commands []CommandConfig `yaml:"commands"`
}

// ClientConfig configures the polling client.
type ClientConfig struct {
	Prefix          string  `yaml:"prefix"`
	SelfCommands    bool    `yaml:"self_commands"`
	QueueMode       bool    `yaml:"queue_mode"`
	QueueMaxLength  int     `yaml:"queue_max_length"`
	PollInterval    string  `yaml:"poll_interval"`
	PersistInterval string  `yaml:"persist_interval"`
	SendRate        float64 `yaml:"send_rate"` // messages per second, 0 = unlimited
	SendBurst       int     `yaml:"send_burst"`
}

// StoreConfig selects the key-value backend holding the seen-set.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory, file, sqlite, pebble, localstorage
	Path    string `yaml:"path"`
	Key     string `yaml:"key"`
}

// MetricsConfig configures the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// CommandConfig is a command answered with a rendered template.
type CommandConfig struct {
	Name  string `yaml:"name"`
	Reply string `yaml:"reply"`
}

// ValidBackends lists the supported store backends.
var ValidBackends = []string{"memory", "file", "sqlite", "pebble", "localstorage"}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Client: ClientConfig{
			Prefix:          "!",
			SelfCommands:    true,
			QueueMode:       false,
			QueueMaxLength:  5,
			PollInterval:    "100ms",
			PersistInterval: "10s",
			SendRate:        0,
			SendBurst:       1,
		},

		Browser: DefaultBrowserConfig(),

		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "data/whatt.db",
			Key:     "handledMessages",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},

		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},

		Commands: []CommandConfig{
			{Name: "ping", Reply: "pong"},
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if prefix := os.Getenv("WHATT_PREFIX"); prefix != "" {
		c.Client.Prefix = prefix
	}
	if v := os.Getenv("WHATT_SELF_COMMANDS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Client.SelfCommands = b
		}
	}

	// Browser endpoints
	if url := os.Getenv("WHATT_BROWSER_URL"); url != "" {
		c.Browser.URL = url
	}
	if url := os.Getenv("WHATT_DEBUGGER_URL"); url != "" {
		c.Browser.DebuggerURL = url
	}

	// Store
	if backend := os.Getenv("WHATT_STORE_BACKEND"); backend != "" {
		c.Store.Backend = backend
	}
	if path := os.Getenv("WHATT_STORE_PATH"); path != "" {
		c.Store.Path = path
	}

	if level := os.Getenv("WHATT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetPollInterval returns the poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Client.PollInterval)
	if err != nil || d <= 0 {
		return 100 * time.Millisecond
	}
	return d
}

// GetPersistInterval returns the seen-set flush interval as a duration.
func (c *Config) GetPersistInterval() time.Duration {
	d, err := time.ParseDuration(c.Client.PersistInterval)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Client.Prefix) == "" {
		errs = append(errs, errors.New("client.prefix must not be empty"))
	}
	if c.Client.QueueMaxLength <= 0 {
		errs = append(errs, fmt.Errorf("client.queue_max_length must be positive, got %d", c.Client.QueueMaxLength))
	}
	if c.Client.SendRate < 0 {
		errs = append(errs, fmt.Errorf("client.send_rate must not be negative, got %v", c.Client.SendRate))
	}
	for field, v := range map[string]string{
		"client.poll_interval":       c.Client.PollInterval,
		"client.persist_interval":    c.Client.PersistInterval,
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", field, v))
		}
	}

	validBackend := false
	for _, b := range ValidBackends {
		if c.Store.Backend == b {
			validBackend = true
			break
		}
	}
	if !validBackend {
		errs = append(errs, fmt.Errorf("invalid store backend: %s (valid: %v)", c.Store.Backend, ValidBackends))
	}
	if c.Store.Backend != "memory" && c.Store.Backend != "localstorage" && c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path required for backend %s", c.Store.Backend))
	}

	names := make(map[string]bool, len(c.Commands))
	for i, cmd := range c.Commands {
		if cmd.Name == "" {
			errs = append(errs, fmt.Errorf("commands[%d]: name must not be empty", i))
			continue
		}
		if names[cmd.Name] {
			errs = append(errs, fmt.Errorf("commands[%d]: duplicate command %q", i, cmd.Name))
		}
		names[cmd.Name] = true
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen required when metrics are enabled"))
	}

	return errors.Join(errs...)
}

// IsMetricsEnabled returns whether the metrics endpoint should be served.
func (c *Config) IsMetricsEnabled() bool {
	return c.Metrics.Enabled
}
