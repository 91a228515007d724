package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server   Server
	Database Database
	RabbitMQ RabbitMQ
	Venue    Venue
}

type Server struct {
	Port int
}

type Database struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

type RabbitMQ struct {
	Host     string
	Port     int
	User     string
	Password string
}

type Venue struct {
	TaxRate  decimal.Decimal
	Currency string
}

// Load reads the two-level YAML config file and applies environment overrides
// for credentials. Missing keys keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := parse(data, cfg); err != nil {
		return nil, err
	}

	cfg.Database.Host = getEnv("POSTGRES_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvInt("POSTGRES_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("POSTGRES_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("POSTGRES_PASSWORD", cfg.Database.Password)
	cfg.Database.Database = getEnv("POSTGRES_DATABASE", cfg.Database.Database)
	cfg.RabbitMQ.Host = getEnv("RABBITMQ_HOST", cfg.RabbitMQ.Host)
	cfg.RabbitMQ.Port = getEnvInt("RABBITMQ_PORT", cfg.RabbitMQ.Port)
	cfg.RabbitMQ.User = getEnv("RABBITMQ_USER", cfg.RabbitMQ.User)
	cfg.RabbitMQ.Password = getEnv("RABBITMQ_PASSWORD", cfg.RabbitMQ.Password)

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server:   Server{Port: 4000},
		Database: Database{Host: "localhost", Port: 5432, User: "postgres", Password: "postgres", Database: "pos"},
		RabbitMQ: RabbitMQ{Host: "localhost", Port: 5672, User: "guest", Password: "guest"},
		Venue:    Venue{TaxRate: decimal.Zero, Currency: "EUR"},
	}
}

// parse handles the flat section/key layout used by the config file. It is
// deliberately not a full YAML implementation.
func parse(data []byte, cfg *Config) error {
	currentSection := ""

	for n, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasSuffix(line, ":") {
			currentSection = strings.TrimSuffix(line, ":")
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		var err error
		switch currentSection {
		case "server":
			err = setServerField(&cfg.Server, key, value)
		case "database":
			err = setDatabaseField(&cfg.Database, key, value)
		case "rabbitmq":
			err = setRabbitMQField(&cfg.RabbitMQ, key, value)
		case "venue":
			err = setVenueField(&cfg.Venue, key, value)
		}
		if err != nil {
			return fmt.Errorf("config line %d: %w", n+1, err)
		}
	}

	return nil
}

func setServerField(s *Server, key, value string) error {
	if key == "port" {
		return setInt(&s.Port, value)
	}
	return nil
}

func setDatabaseField(db *Database, key, value string) error {
	switch key {
	case "host":
		db.Host = value
	case "port":
		return setInt(&db.Port, value)
	case "user":
		db.User = value
	case "password":
		db.Password = value
	case "database":
		db.Database = value
	}
	return nil
}

func setRabbitMQField(r *RabbitMQ, key, value string) error {
	switch key {
	case "host":
		r.Host = value
	case "port":
		return setInt(&r.Port, value)
	case "user":
		r.User = value
	case "password":
		r.Password = value
	}
	return nil
}

func setVenueField(v *Venue, key, value string) error {
	switch key {
	case "tax_rate":
		rate, err := decimal.NewFromString(value)
		if err != nil {
			return fmt.Errorf("tax_rate: %w", err)
		}
		v.TaxRate = rate
	case "currency":
		v.Currency = value
	}
	return nil
}

func setInt(dst *int, value string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
