package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
)

const (
	maxRetries    = 5
	retryInterval = 2 * time.Second
)

// NewPool connects to Postgres, retrying while the database comes up.
func NewPool(ctx context.Context, databaseURL string, log zerolog.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	var (
		pool    *pgxpool.Pool
		attempt int
	)
	b := retry.WithMaxRetries(maxRetries-1, retry.NewConstant(retryInterval))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		p, err := pgxpool.NewWithConfig(ctx, config)
		if err == nil {
			if err = p.Ping(ctx); err == nil {
				pool = p
				return nil
			}
			p.Close()
		}
		log.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxRetries).Msg("database connection attempt failed")
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed after %d attempts: %w", attempt, err)
	}

	log.Info().Msg("database connected")
	return pool, nil
}
