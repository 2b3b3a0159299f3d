package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memos-platform/memos/internal/config"
)

// ApplicationName tags every session so memo queries are identifiable in pg_stat_activity.
const ApplicationName = "memos"

// ErrVectorExtensionMissing is returned when the pgvector extension is not installed.
var ErrVectorExtensionMissing = errors.New("pgvector extension is not installed")

// NewPostgresPool connects to PostgreSQL and verifies the connection.
func NewPostgresPool(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.ConnConfig.RuntimeParams["application_name"] = ApplicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	attrs := []any{"host", cfg.Host, "port", cfg.Port, "db", cfg.Name, "max_conns", cfg.MaxConns}
	if v, err := VectorVersion(ctx, pool); err == nil {
		attrs = append(attrs, "pgvector", v)
	}
	slog.Info("connected to postgres", attrs...)
	return pool, nil
}

// VectorVersion returns the installed pgvector version.
func VectorVersion(ctx context.Context, pool *pgxpool.Pool) (string, error) {
	var v string
	err := pool.QueryRow(ctx, `SELECT extversion FROM pg_extension WHERE extname = 'vector'`).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrVectorExtensionMissing
	}
	if err != nil {
		return "", fmt.Errorf("reading pgvector version: %w", err)
	}
	return v, nil
}

// HealthCheck reports the database ready once it answers and has pgvector installed.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := VectorVersion(ctx, pool)
	return err
}
