package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

const sampleYAML = `# venue server config
server:
  port: 4100

database:
  host: db.internal
  port: 5433
  user: pos
  password: "s3cret"
  database: venue

rabbitmq:
  host: mq.internal
  user: pos

venue:
  tax_rate: "0.19"
  currency: EUR
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("server port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 5433 {
		t.Errorf("database endpoint = %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.Password != "s3cret" {
		t.Errorf("quotes should be stripped, got %q", cfg.Database.Password)
	}
	// Keys absent from the file keep their defaults.
	if cfg.RabbitMQ.Port != 5672 {
		t.Errorf("rabbitmq port default = %d, want 5672", cfg.RabbitMQ.Port)
	}
	if !cfg.Venue.TaxRate.Equal(decimal.RequireFromString("0.19")) {
		t.Errorf("tax rate = %s, want 0.19", cfg.Venue.TaxRate)
	}
	if cfg.Venue.Currency != "EUR" {
		t.Errorf("currency = %q", cfg.Venue.Currency)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "10.0.0.7")
	t.Setenv("POSTGRES_PORT", "15432")
	t.Setenv("RABBITMQ_PASSWORD", "fromenv")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Host != "10.0.0.7" || cfg.Database.Port != 15432 {
		t.Errorf("env override lost: %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.RabbitMQ.Password != "fromenv" {
		t.Errorf("rabbitmq password = %q", cfg.RabbitMQ.Password)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadBadTaxRate(t *testing.T) {
	path := writeConfig(t, "venue:\n  tax_rate: not-a-number\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed tax_rate")
	}
}
