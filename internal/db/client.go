package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
)

// Client manages the Postgres connection pool.
type Client struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewClient opens a pooled connection and verifies it.
func NewClient(cfg config.PostgresConfig, logger *zap.Logger) (*Client, error) {
	maxConns := cfg.MaxConns
	if maxConns == 0 {
		maxConns = 25
	}
	maxIdle := cfg.MaxIdle
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := cfg.Lifetime
	if lifetime == 0 {
		lifetime = 5 * time.Minute
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, sslMode,
	)

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database client initialized",
		zap.String("host", cfg.Host),
		zap.String("database", cfg.Database),
		zap.Int("max_connections", maxConns),
	)
	return &Client{db: db, logger: logger}, nil
}

// NewClientFromDB wraps an existing connection, used by tests with sqlmock.
func NewClientFromDB(db *sqlx.DB, logger *zap.Logger) *Client {
	return &Client{db: db, logger: logger}
}

func (c *Client) Close() error { return c.db.Close() }

// DB exposes the underlying pool for health checks and migrations.
func (c *Client) DB() *sql.DB { return c.db.DB }

// HealthCheck pings with a short deadline.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.db.PingContext(ctx)
}
