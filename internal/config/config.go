package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the messaging daemon configuration file.
type Config struct {
	// UserID is the opaque identifier issued by the identity provider for
	// the user this daemon connects on behalf of. The core never
	// authenticates users itself.
	UserID string `toml:"user_id"`

	// DataDir holds the lock file, log file and the local SQLite database
	// when the sqlite3 driver is selected.
	DataDir string `toml:"data_dir"`

	Transport Transport `toml:"transport"`
	Database  Database  `toml:"database"`
	Poll      Poll      `toml:"poll"`
	Notify    Notify    `toml:"notify"`
	Identity  Identity  `toml:"identity"`
	HTTP      HTTP      `toml:"http"`
}

// Transport configures the live event feed connection.
type Transport struct {
	// FeedURL is the WebSocket URL of the event feed, e.g.
	// wss://feed.example.com/ws. Empty means fallback-only operation.
	FeedURL string `toml:"feed_url"`
	// ReconnectBaseDelayMS is the first reconnect delay; it doubles per
	// attempt.
	ReconnectBaseDelayMS int `toml:"reconnect_base_delay_ms"`
	// MaxReconnectAttempts caps connection attempts before the session
	// degrades to polling for good.
	MaxReconnectAttempts int `toml:"max_reconnect_attempts"`
}

// Database configures the conversation store.
type Database struct {
	// Driver is "postgres" or "sqlite3".
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	// AutoMigrate applies the current-generation schema on startup.
	// Leave false on deployments still running the legacy rooms schema.
	AutoMigrate bool `toml:"auto_migrate"`
}

// Poll configures the fallback polling loop.
type Poll struct {
	IntervalMS int `toml:"interval_ms"`
}

// Notify configures the fire-and-forget notification sink.
type Notify struct {
	URL string `toml:"url"`
}

// Identity configures the identity directory lookup endpoint.
type Identity struct {
	URL string `toml:"url"`
}

// HTTP configures the local health/metrics listener.
type HTTP struct {
	Addr string `toml:"addr"`
}

// Default returns a config with sensible defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		DataDir: filepath.Join(home, ".clinivo-messaging"),
		Transport: Transport{
			ReconnectBaseDelayMS: 500,
			MaxReconnectAttempts: 5,
		},
		Database: Database{
			Driver: "sqlite3",
		},
		Poll: Poll{
			IntervalMS: 3000,
		},
		HTTP: HTTP{
			Addr: "127.0.0.1:8480",
		},
	}
}

// Load reads config from the given path, applying defaults for unset fields.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	if c.Transport.MaxReconnectAttempts <= 0 {
		return fmt.Errorf("transport.max_reconnect_attempts must be positive")
	}
	if c.Poll.IntervalMS <= 0 {
		return fmt.Errorf("poll.interval_ms must be positive")
	}
	return nil
}

// ReconnectBaseDelay returns the reconnect base delay as a duration.
func (c *Config) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.Transport.ReconnectBaseDelayMS) * time.Millisecond
}

// PollInterval returns the fallback poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}

// SQLitePath returns the path of the local database file inside DataDir.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "messaging.db")
}

// LogPath returns the daemon log file path inside DataDir.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "messagingd.log")
}
