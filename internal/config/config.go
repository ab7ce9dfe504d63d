// Package config loads and validates the TOML service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Duration decodes TOML strings like "3s" into a time.Duration.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration value.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration document.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	Services ServicesConfig `toml:"services"`
	Logging  LoggingConfig  `toml:"logging"`
}

// DatabaseConfig locates the sqlite database file.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Addr string `toml:"addr"`
	// Subdomain is the tenant discriminator forwarded on every remote call.
	Subdomain string `toml:"subdomain"`
}

// ServicesConfig holds the sibling service endpoints and call timeouts.
type ServicesConfig struct {
	CoreURL          string   `toml:"core_url"`
	PricingURL       string   `toml:"pricing_url"`
	LoyaltyURL       string   `toml:"loyalty_url"`
	NotificationsURL string   `toml:"notifications_url"`
	RelationsURL     string   `toml:"relations_url"`
	AdvisoryTimeout  Duration `toml:"advisory_timeout"`
	MandatoryTimeout Duration `toml:"mandatory_timeout"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// Default returns the baseline configuration around a database path.
func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Server: ServerConfig{
			Addr:      ":8070",
			Subdomain: "os",
		},
		Services: ServicesConfig{
			CoreURL:          "http://localhost:8071",
			PricingURL:       "http://localhost:8072",
			LoyaltyURL:       "http://localhost:8073",
			NotificationsURL: "http://localhost:8074",
			RelationsURL:     "http://localhost:8071",
			AdvisoryTimeout:  Duration(3 * time.Second),
			MandatoryTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the given defaults. A missing file is fine.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server addr is required")
	}
	if strings.TrimSpace(c.Server.Subdomain) == "" {
		return errors.New("server subdomain is required")
	}

	for name, url := range map[string]string{
		"core_url":          c.Services.CoreURL,
		"pricing_url":       c.Services.PricingURL,
		"loyalty_url":       c.Services.LoyaltyURL,
		"notifications_url": c.Services.NotificationsURL,
		"relations_url":     c.Services.RelationsURL,
	} {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("services.%s is required", name)
		}
	}

	if c.Services.AdvisoryTimeout <= 0 {
		return errors.New("services.advisory_timeout must be positive")
	}
	if c.Services.MandatoryTimeout <= 0 {
		return errors.New("services.mandatory_timeout must be positive")
	}

	switch strings.TrimSpace(strings.ToLower(c.Logging.Level)) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	return nil
}

// EnsureConfigDir creates the directory holding the config file.
func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
