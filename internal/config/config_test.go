package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default("/tmp/boardflow.db")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Path != "/tmp/boardflow.db" {
		t.Fatalf("unexpected database path %q", cfg.Database.Path)
	}
	if cfg.Server.Addr != ":8070" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if cfg.Services.AdvisoryTimeout.Std() != 3*time.Second {
		t.Fatalf("unexpected advisory timeout %v", cfg.Services.AdvisoryTimeout.Std())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[database]
path = "/var/lib/boardflow/boardflow.db"

[server]
addr = ":9000"
subdomain = "acme"

[services]
core_url = "http://core:8071"
pricing_url = "http://pricing:8072"
loyalty_url = "http://loyalty:8073"
notifications_url = "http://notifications:8074"
relations_url = "http://core:8071"
advisory_timeout = "500ms"
mandatory_timeout = "5s"

[logging]
level = "debug"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path, Default("/tmp/fallback.db"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Server.Subdomain != "acme" {
		t.Fatalf("server config not applied: %+v", cfg.Server)
	}
	if cfg.Services.AdvisoryTimeout.Std() != 500*time.Millisecond {
		t.Fatalf("advisory timeout = %v", cfg.Services.AdvisoryTimeout.Std())
	}
	if cfg.Services.MandatoryTimeout.Std() != 5*time.Second {
		t.Fatalf("mandatory timeout = %v", cfg.Services.MandatoryTimeout.Std())
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("logging level = %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }},
		{"empty subdomain", func(c *Config) { c.Server.Subdomain = "" }},
		{"empty core url", func(c *Config) { c.Services.CoreURL = "" }},
		{"zero advisory timeout", func(c *Config) { c.Services.AdvisoryTimeout = 0 }},
		{"negative mandatory timeout", func(c *Config) { c.Services.MandatoryTimeout = Duration(-time.Second) }},
		{"bad log level", func(c *Config) { c.Logging.Level = "chatty" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default("/tmp/boardflow.db")
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("Validate() should fail")
			}
		})
	}
}
