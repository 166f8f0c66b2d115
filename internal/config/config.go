// Package config loads server settings. Values come from defaults, then an
// optional YAML file, then the environment (a .env file is read first when
// present).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tuosm9390/minionsbid/internal/audit"
	"github.com/tuosm9390/minionsbid/internal/engine"
	"github.com/tuosm9390/minionsbid/internal/store"
)

type Config struct {
	HTTPAddr    string   `yaml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" | "console"

	Database Database `yaml:"database"`
	NATS     NATS     `yaml:"nats"`
	Auction  Auction  `yaml:"auction"`
}

type Database struct {
	Driver       string        `yaml:"driver"` // "memory" | "postgres" | "sqlite"
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Name         string        `yaml:"name"`
	SSLMode      string        `yaml:"sslmode"`
	SQLitePath   string        `yaml:"sqlite_path"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	AutoMigrate  bool          `yaml:"auto_migrate"`
	SlowQuery    time.Duration `yaml:"slow_query"`
}

type NATS struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type Auction struct {
	FreshDuration       time.Duration `yaml:"fresh_duration"`
	ResumeDuration      time.Duration `yaml:"resume_duration"`
	ExtendThreshold     time.Duration `yaml:"extend_threshold"`
	ExtendTo            time.Duration `yaml:"extend_to"`
	BidGrace            time.Duration `yaml:"bid_grace"`
	MaxDuration         time.Duration `yaml:"max_duration"`
	RequireAllConnected bool          `yaml:"require_all_connected"`
	PauseOnDisconnect   bool          `yaml:"pause_on_disconnect"`
	CommitTimeout       time.Duration `yaml:"commit_timeout"`
	AuditQueueSize      int           `yaml:"audit_queue_size"`
}

func Default() Config {
	rules := engine.DefaultRules()
	return Config{
		HTTPAddr:    ":8080",
		CORSOrigins: []string{"http://localhost:3000"},
		LogLevel:    "info",
		LogFormat:   "json",
		Database: Database{
			Driver:       store.DriverSQLite,
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			Password:     "postgres",
			Name:         "minionsbid",
			SSLMode:      "disable",
			SQLitePath:   "minionsbid.db",
			MaxOpenConns: 10,
			AutoMigrate:  true,
			SlowQuery:    200 * time.Millisecond,
		},
		NATS: NATS{
			URL:           audit.DefaultNATSConfig().URL,
			SubjectPrefix: audit.DefaultNATSConfig().SubjectPrefix,
			ReconnectWait: audit.DefaultNATSConfig().ReconnectWait,
		},
		Auction: Auction{
			FreshDuration:   rules.FreshDuration,
			ResumeDuration:  rules.ResumeDuration,
			ExtendThreshold: rules.ExtendThreshold,
			ExtendTo:        rules.ExtendTo,
			BidGrace:        rules.BidGrace,
			MaxDuration:     rules.MaxDuration,
			CommitTimeout:   5 * time.Second,
			AuditQueueSize:  1024,
		},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// A missing .env is fine; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("AUCTION_HTTP_ADDR", c.HTTPAddr)
	if v := os.Getenv("AUCTION_CORS_ORIGINS"); v != "" {
		c.CORSOrigins = strings.Split(v, ",")
	}
	c.LogLevel = getEnv("AUCTION_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("AUCTION_LOG_FORMAT", c.LogFormat)

	c.Database.Driver = getEnv("DB_DRIVER", c.Database.Driver)
	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvAsInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSLMODE", c.Database.SSLMode)
	c.Database.SQLitePath = getEnv("DB_SQLITE_PATH", c.Database.SQLitePath)
	c.Database.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.AutoMigrate = getEnvAsBool("DB_AUTO_MIGRATE", c.Database.AutoMigrate)

	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	c.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATS.SubjectPrefix)

	c.Auction.FreshDuration = getEnvAsDuration("AUCTION_FRESH_DURATION", c.Auction.FreshDuration)
	c.Auction.ResumeDuration = getEnvAsDuration("AUCTION_RESUME_DURATION", c.Auction.ResumeDuration)
	c.Auction.ExtendThreshold = getEnvAsDuration("AUCTION_EXTEND_THRESHOLD", c.Auction.ExtendThreshold)
	c.Auction.ExtendTo = getEnvAsDuration("AUCTION_EXTEND_TO", c.Auction.ExtendTo)
	c.Auction.BidGrace = getEnvAsDuration("AUCTION_BID_GRACE", c.Auction.BidGrace)
	c.Auction.MaxDuration = getEnvAsDuration("AUCTION_MAX_DURATION", c.Auction.MaxDuration)
	c.Auction.RequireAllConnected = getEnvAsBool("AUCTION_REQUIRE_ALL_CONNECTED", c.Auction.RequireAllConnected)
	c.Auction.PauseOnDisconnect = getEnvAsBool("AUCTION_PAUSE_ON_DISCONNECT", c.Auction.PauseOnDisconnect)
	c.Auction.CommitTimeout = getEnvAsDuration("AUCTION_COMMIT_TIMEOUT", c.Auction.CommitTimeout)
	c.Auction.AuditQueueSize = getEnvAsInt("AUCTION_AUDIT_QUEUE_SIZE", c.Auction.AuditQueueSize)
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case store.DriverMemory, store.DriverPostgres, store.DriverSQLite:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Auction.FreshDuration <= 0 || c.Auction.ResumeDuration <= 0 || c.Auction.MaxDuration <= 0 {
		return errors.New("auction durations must be positive")
	}
	if c.Auction.BidGrace < 0 || c.Auction.ExtendThreshold < 0 || c.Auction.ExtendTo < 0 {
		return errors.New("auction grace and extension windows must not be negative")
	}
	return nil
}

// DSN returns the Postgres connection URL.
func (d Database) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

func (c Config) Store() store.Config {
	return store.Config{
		Driver:       c.Database.Driver,
		DSN:          c.Database.DSN(),
		SQLitePath:   c.Database.SQLitePath,
		MaxOpenConns: c.Database.MaxOpenConns,
		AutoMigrate:  c.Database.AutoMigrate,
		SlowQuery:    c.Database.SlowQuery,
	}
}

func (c Config) NATSConfig() audit.NATSConfig {
	n := audit.DefaultNATSConfig()
	n.URL = c.NATS.URL
	n.SubjectPrefix = c.NATS.SubjectPrefix
	if c.NATS.ReconnectWait > 0 {
		n.ReconnectWait = c.NATS.ReconnectWait
	}
	return n
}

func (c Config) Rules() engine.Rules {
	r := engine.DefaultRules()
	r.FreshDuration = c.Auction.FreshDuration
	r.ResumeDuration = c.Auction.ResumeDuration
	r.ExtendThreshold = c.Auction.ExtendThreshold
	r.ExtendTo = c.Auction.ExtendTo
	r.BidGrace = c.Auction.BidGrace
	r.MaxDuration = c.Auction.MaxDuration
	return r
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
