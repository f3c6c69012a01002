// Package config loads and validates taskbell's YAML configuration.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ScannerConfig tunes the server-side reminder sweep.
type ScannerConfig struct {
	// IntervalSeconds between sweeps. Default 60.
	IntervalSeconds int `yaml:"interval_seconds"`
	// DigestCron is a 5-field cron expression for the daily digest email.
	// Empty disables the digest.
	DigestCron string `yaml:"digest_cron"`
}

// ClientConfig tunes the reminder client.
type ClientConfig struct {
	// ServerURL is the daemon base URL, e.g. http://127.0.0.1:18790.
	ServerURL string `yaml:"server_url"`
	// APIKey authenticates the client against the gateway.
	APIKey string `yaml:"api_key"`
	// PollSeconds between fired-reminder polls. Default 30.
	PollSeconds int `yaml:"poll_seconds"`
}

// RingtoneSource names the audio files for one priority.
type RingtoneSource struct {
	Primary  string `yaml:"primary"`
	Fallback string `yaml:"fallback"`
}

// RingtoneConfig holds per-priority cue sources and the quiet-hours window.
type RingtoneConfig struct {
	Low    RingtoneSource `yaml:"low"`
	Medium RingtoneSource `yaml:"medium"`
	High   RingtoneSource `yaml:"high"`
	// QuietHours is a local-time window "HH:MM-HH:MM" during which audio is
	// suppressed. Default "00:00-05:00". Empty disables suppression.
	QuietHours string `yaml:"quiet_hours"`
}

// SMTPConfig configures the reminder email channel.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// WebhookConfig configures the push-webhook channel (ntfy-style HTTP POST).
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	// TimeoutSeconds for each POST. Default 10.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// TelegramConfig configures the Telegram push channel.
type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  int64  `yaml:"chat_id"`
}

// ChannelsConfig groups all notification channels.
type ChannelsConfig struct {
	SMTP     SMTPConfig     `yaml:"smtp"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Telegram TelegramConfig `yaml:"telegram"`
}

// APIKeyEntry maps an API key to an owner identity.
type APIKeyEntry struct {
	Key   string `yaml:"key"`
	User  string `yaml:"user"`
	Email string `yaml:"email"`
}

// AuthConfig configures gateway authentication.
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Keys    []APIKeyEntry `yaml:"keys"`
}

// OTelConfig configures OpenTelemetry export.
type OTelConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"` // "stdout" or "otlp"
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	Scanner   ScannerConfig  `yaml:"scanner"`
	Client    ClientConfig   `yaml:"client"`
	Ringtones RingtoneConfig `yaml:"ringtones"`
	Channels  ChannelsConfig `yaml:"channels"`
	Auth      AuthConfig     `yaml:"auth"`
	OTel      OTelConfig     `yaml:"otel"`
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18790",
		LogLevel: "info",
		Scanner: ScannerConfig{
			IntervalSeconds: 60,
			DigestCron:      "0 8 * * *",
		},
		Client: ClientConfig{
			ServerURL:   "http://127.0.0.1:18790",
			PollSeconds: 30,
		},
		Ringtones: RingtoneConfig{
			QuietHours: "00:00-05:00",
		},
		Channels: ChannelsConfig{
			Webhook: WebhookConfig{TimeoutSeconds: 10},
		},
	}
}

// HomeDir resolves the taskbell data directory, honoring TASKBELL_HOME.
func HomeDir() string {
	if override := os.Getenv("TASKBELL_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskbell")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the taskbell home, applying defaults, env
// overrides, and validation. A missing file yields pure defaults.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskbell home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKBELL_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TASKBELL_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKBELL_SCAN_INTERVAL_SECONDS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Scanner.IntervalSeconds = v
		}
	}
	if raw := os.Getenv("TASKBELL_API_KEY"); raw != "" {
		cfg.Client.APIKey = raw
	}
	if raw := os.Getenv("TASKBELL_SERVER_URL"); raw != "" {
		cfg.Client.ServerURL = raw
	}
}

func normalize(cfg *Config) {
	if cfg.Scanner.IntervalSeconds <= 0 {
		cfg.Scanner.IntervalSeconds = 60
	}
	if cfg.Client.PollSeconds <= 0 {
		cfg.Client.PollSeconds = 30
	}
	if cfg.Channels.Webhook.TimeoutSeconds <= 0 {
		cfg.Channels.Webhook.TimeoutSeconds = 10
	}
	cfg.BindAddr = strings.TrimSpace(cfg.BindAddr)
	cfg.Client.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.Client.ServerURL), "/")
}

func validate(cfg *Config) error {
	if cfg.BindAddr == "" {
		return fmt.Errorf("bind_addr must not be empty")
	}
	if cfg.Ringtones.QuietHours != "" {
		if _, err := ParseQuietWindow(cfg.Ringtones.QuietHours); err != nil {
			return fmt.Errorf("quiet_hours: %w", err)
		}
	}
	if cfg.Channels.SMTP.Enabled {
		if cfg.Channels.SMTP.Host == "" || cfg.Channels.SMTP.From == "" {
			return fmt.Errorf("smtp channel enabled but host or from is empty")
		}
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		return fmt.Errorf("telegram channel enabled but token is empty")
	}
	for i, k := range cfg.Auth.Keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("auth.keys[%d]: empty key", i)
		}
	}
	return nil
}

// ScanInterval returns the sweep period as a duration.
func (c Config) ScanInterval() time.Duration {
	return time.Duration(c.Scanner.IntervalSeconds) * time.Second
}

// PollInterval returns the client poll period as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Client.PollSeconds) * time.Second
}

// Fingerprint returns a stable hash of the active config, exposed on
// /api/status so operators can tell which config a daemon is running.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|scan=%d|digest=%s|quiet=%s|poll=%d",
		c.BindAddr, c.LogLevel, c.Scanner.IntervalSeconds, c.Scanner.DigestCron,
		c.Ringtones.QuietHours, c.Client.PollSeconds)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

// QuietWindow is a local-time window during which audio is suppressed.
// Start and End are minutes since midnight; a window where End <= Start
// wraps past midnight.
type QuietWindow struct {
	Start int
	End   int
}

// ParseQuietWindow parses "HH:MM-HH:MM" into a QuietWindow.
func ParseQuietWindow(s string) (QuietWindow, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return QuietWindow{}, fmt.Errorf("want HH:MM-HH:MM, got %q", s)
	}
	start, err := parseClock(parts[0])
	if err != nil {
		return QuietWindow{}, err
	}
	end, err := parseClock(parts[1])
	if err != nil {
		return QuietWindow{}, err
	}
	return QuietWindow{Start: start, End: end}, nil
}

func parseClock(s string) (int, error) {
	hm := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(hm) != 2 {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hm[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(hm[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return h*60 + m, nil
}

// Contains reports whether the local time t falls inside the window.
func (w QuietWindow) Contains(t time.Time) bool {
	minute := t.Hour()*60 + t.Minute()
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return minute >= w.Start && minute < w.End
	}
	// Wraps midnight, e.g. 22:00-05:00.
	return minute >= w.Start || minute < w.End
}
