// Package pg is the relational durable store: subjects for token checks,
// alerts and shifts for the dashboard, and chat messages.
package pg

import (
	"context"
	_ "embed"
	"time"

	"fieldgate/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultMaxConns = 16
	defaultMaxRetry = 3
)

type Config struct {
	URL      string
	MaxConns int32
	MaxRetry int
}

func (c *Config) ValidateAndSetDefaults() error {
	if c.URL == "" {
		return errors.New("postgres url is required")
	}
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}
	if c.MaxRetry <= 0 {
		c.MaxRetry = defaultMaxRetry
	}
	return nil
}

// NewPool connects and pings, retrying a few times while the database comes up.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if err := cfg.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres url")
	}
	pcfg.MaxConns = cfg.MaxConns

	var pool *pgxpool.Pool
	for i := 0; i < cfg.MaxRetry; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, pcfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return pool, nil
			}
			pool.Close()
		}
		logger.Warn("[pg] connect failed", zap.Int("attempt", i+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second / 2):
		}
	}
	return nil, errors.Wrap(err, "connect postgres")
}

// Migrate applies the bundled schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return errors.Wrap(err, "apply schema")
}
