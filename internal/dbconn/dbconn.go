// Package dbconn provides a pooled PostgreSQL connection shared by the job
// store, session store, and audit sink.
package dbconn

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/opsplatform/jobcore/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
	pingTimeout            = 5 * time.Second
	postgresDriver         = "postgres"
)

// ErrDatabaseURLEmpty is returned when the database URL is empty.
var ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

// Config holds PostgreSQL connection configuration with production-ready defaults.
type Config struct {
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfig loads PostgreSQL configuration from environment variables.
func LoadConfig() *Config {
	return &Config{
		DatabaseURL:     config.GetEnvStr("JOBCORE_DATABASE_URL", ""),
		MaxOpenConns:    config.GetEnvInt("JOBCORE_DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("JOBCORE_DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("JOBCORE_DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("JOBCORE_DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	return nil
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.DatabaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.DatabaseURL, "://")
	if schemeEnd == -1 {
		return c.DatabaseURL
	}

	afterScheme := c.DatabaseURL[schemeEnd+3:]

	lastAt := strings.LastIndex(afterScheme, "@")
	if lastAt == -1 {
		return c.DatabaseURL
	}

	userInfo := afterScheme[:lastAt]

	colon := strings.Index(userInfo, ":")
	if colon == -1 {
		return c.DatabaseURL
	}

	username := userInfo[:colon]
	password := userInfo[colon+1:]

	if password == "" {
		return c.DatabaseURL
	}

	scheme := c.DatabaseURL[:schemeEnd]
	hostAndRest := afterScheme[lastAt:]

	return scheme + "://" + username + ":***" + hostAndRest
}

// Conn wraps a pooled *sql.DB.
type Conn struct {
	*sql.DB
}

// Open opens a pooled connection and performs an immediate health check.
func Open(cfg *Config) (*Conn, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(postgresDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("dbconn: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("dbconn: health check failed: %w", err)
	}

	return &Conn{db}, nil
}

// HealthCheck pings the database with a bounded timeout.
func (c *Conn) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), pingTimeout)
		defer cancel()
	}

	return c.PingContext(ctx)
}

// Close closes the connection pool. Safe to call multiple times.
func (c *Conn) Close() error {
	return c.DB.Close()
}
