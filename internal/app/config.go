package app

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the process configuration. A TOML file supplies defaults;
// command line flags override individual values.
type Config struct {
	Addr      string `toml:"addr"`
	Driver    string `toml:"driver"`
	DSN       string `toml:"dsn"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	SQLLog    bool   `toml:"sql_log"`

	BootstrapAPIKey  string `toml:"bootstrap_api_key"`
	BootstrapKeyName string `toml:"bootstrap_key_name"`
	BootstrapUserID  string `toml:"bootstrap_user_id"`

	Outbox           bool     `toml:"outbox"`
	DispatchInterval Duration `toml:"dispatch_interval"`
	DispatchBatch    int      `toml:"dispatch_batch"`
	DispatchRetries  int      `toml:"dispatch_retries"`
	WebhookURL       string   `toml:"webhook_url"`
	WebhookSecret    string   `toml:"webhook_secret"`
	WebhookTimeout   Duration `toml:"webhook_timeout"`
}

// Duration reads TOML strings such as "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func DefaultConfig() Config {
	return Config{
		Addr:             ":8080",
		Driver:           "sqlite",
		DSN:              "./lims.sqlite",
		LogLevel:         "info",
		LogFormat:        "text",
		BootstrapKeyName: "bootstrap",
		Outbox:           true,
		DispatchInterval: Duration{2 * time.Second},
		DispatchBatch:    100,
		DispatchRetries:  5,
		WebhookTimeout:   Duration{10 * time.Second},
	}
}

// LoadConfig reads path over the defaults. An empty path returns the
// defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}
