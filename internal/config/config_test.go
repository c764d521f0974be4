package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"WHATT_PREFIX", "WHATT_SELF_COMMANDS", "WHATT_BROWSER_URL", "WHATT_DEBUGGER_URL",
		"WHATT_STORE_BACKEND", "WHATT_STORE_PATH", "WHATT_LOG_LEVEL",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Client.Prefix != "!" {
		t.Errorf("expected Prefix=!, got %s", cfg.Client.Prefix)
	}
	if !cfg.Client.SelfCommands {
		t.Error("expected SelfCommands=true")
	}
	if cfg.Client.QueueMaxLength != 5 {
		t.Errorf("expected QueueMaxLength=5, got %d", cfg.Client.QueueMaxLength)
	}
	if cfg.Store.Key != "handledMessages" {
		t.Errorf("expected Store.Key=handledMessages, got %s", cfg.Store.Key)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "whatt.yaml")

	cfg := DefaultConfig()
	cfg.Client.QueueMode = true
	cfg.Client.QueueMaxLength = 8
	cfg.Store.Backend = "pebble"
	cfg.Commands = append(cfg.Commands, CommandConfig{Name: "greet", Reply: "hi {{.Sender}}"})

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !loaded.Client.QueueMode || loaded.Client.QueueMaxLength != 8 {
		t.Errorf("queue settings not round-tripped: %+v", loaded.Client)
	}
	if loaded.Store.Backend != "pebble" {
		t.Errorf("expected Backend=pebble, got %s", loaded.Store.Backend)
	}
	if len(loaded.Commands) != 2 || loaded.Commands[1].Reply != "hi {{.Sender}}" {
		t.Errorf("commands not round-tripped: %+v", loaded.Commands)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.GetPollInterval() != 100*time.Millisecond {
		t.Errorf("expected default poll interval, got %v", cfg.GetPollInterval())
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "whatt.yaml")
	if err := os.WriteFile(path, []byte("client:\n  prefix: \"/\"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Client.Prefix != "/" {
		t.Errorf("expected Prefix=/, got %s", cfg.Client.Prefix)
	}
	if cfg.Client.QueueMaxLength != 5 {
		t.Errorf("expected default QueueMaxLength, got %d", cfg.Client.QueueMaxLength)
	}
	if cfg.Browser.Selectors.MarkerAttribute != "data-pre-plain-text" {
		t.Errorf("expected default marker attribute, got %s", cfg.Browser.Selectors.MarkerAttribute)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whatt.yaml")
	if err := os.WriteFile(path, []byte("client: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestGetDurations_FallBack(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Client.PollInterval = "soon"
	cfg.Client.PersistInterval = "-1s"
	cfg.Browser.NavigationTimeout = ""

	if got := cfg.GetPollInterval(); got != 100*time.Millisecond {
		t.Errorf("GetPollInterval() = %v", got)
	}
	if got := cfg.GetPersistInterval(); got != 10*time.Second {
		t.Errorf("GetPersistInterval() = %v", got)
	}
	if got := cfg.Browser.GetNavigationTimeout(); got != 60*time.Second {
		t.Errorf("GetNavigationTimeout() = %v", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty prefix", mutate: func(c *Config) { c.Client.Prefix = " " }, wantErr: "client.prefix"},
		{name: "zero queue length", mutate: func(c *Config) { c.Client.QueueMaxLength = 0 }, wantErr: "queue_max_length"},
		{name: "negative rate", mutate: func(c *Config) { c.Client.SendRate = -1 }, wantErr: "send_rate"},
		{name: "bad duration", mutate: func(c *Config) { c.Client.PollInterval = "fast" }, wantErr: "client.poll_interval"},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "redis" }, wantErr: "invalid store backend"},
		{name: "missing path", mutate: func(c *Config) { c.Store.Path = "" }, wantErr: "store.path"},
		{name: "unnamed command", mutate: func(c *Config) { c.Commands = []CommandConfig{{Reply: "x"}} }, wantErr: "name must not be empty"},
		{name: "duplicate command", mutate: func(c *Config) {
			c.Commands = []CommandConfig{{Name: "a"}, {Name: "a"}}
		}, wantErr: "duplicate command"},
		{name: "metrics without listen", mutate: func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Listen = ""
		}, wantErr: "metrics.listen"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_MemoryNeedsNoPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Backend = "memory"
	cfg.Store.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{Categories: map[string]bool{"poller": false}}
	if lc.IsCategoryEnabled("poller") {
		t.Error("poller should be disabled")
	}
	if !lc.IsCategoryEnabled("send") {
		t.Error("unlisted category should be enabled")
	}
	if !lc.Options().Enabled("send") {
		t.Error("options should carry category toggles")
	}
}
