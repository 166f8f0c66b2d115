package store

import "time"

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Driver       string
	DSN          string
	SQLitePath   string
	MaxOpenConns int
	AutoMigrate  bool
	SlowQuery    time.Duration
}
