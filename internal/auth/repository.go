package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// KeyRepository defines API key persistence operations.
type KeyRepository interface {
	Create(ctx context.Context, key *APIKey) error
	FindActiveByPrefix(ctx context.Context, prefix string) (*APIKey, error)
	ListByOwner(ctx context.Context, ownerID string) ([]APIKey, error)
	Revoke(ctx context.Context, ownerID string, id uuid.UUID) (string, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// PostgresKeyRepository implements KeyRepository using pgx.
type PostgresKeyRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresKeyRepository(pool *pgxpool.Pool) *PostgresKeyRepository {
	return &PostgresKeyRepository{pool: pool}
}

func (r *PostgresKeyRepository) Create(ctx context.Context, key *APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO api_keys (id, owner_id, name, prefix, key_hash)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		key.ID, key.OwnerID, key.Name, key.Prefix, key.Hash,
	).Scan(&key.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting api key: %w", err)
	}
	return nil
}

func (r *PostgresKeyRepository) FindActiveByPrefix(ctx context.Context, prefix string) (*APIKey, error) {
	var k APIKey
	err := r.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, prefix, key_hash, last_used_at, revoked_at, created_at
		 FROM api_keys
		 WHERE prefix = $1 AND revoked_at IS NULL`,
		prefix,
	).Scan(&k.ID, &k.OwnerID, &k.Name, &k.Prefix, &k.Hash, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("finding api key: %w", err)
	}
	return &k, nil
}

func (r *PostgresKeyRepository) ListByOwner(ctx context.Context, ownerID string) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, owner_id, name, prefix, key_hash, last_used_at, revoked_at, created_at
		 FROM api_keys
		 WHERE owner_id = $1
		 ORDER BY created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	defer rows.Close()

	keys := []APIKey{}
	for rows.Next() {
		var k APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.Prefix, &k.Hash, &k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Revoke marks a key revoked and returns its prefix.
func (r *PostgresKeyRepository) Revoke(ctx context.Context, ownerID string, id uuid.UUID) (string, error) {
	var prefix string
	err := r.pool.QueryRow(ctx,
		`UPDATE api_keys SET revoked_at = NOW()
		 WHERE id = $1 AND owner_id = $2 AND revoked_at IS NULL
		 RETURNING prefix`,
		id, ownerID,
	).Scan(&prefix)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrKeyNotFound
		}
		return "", fmt.Errorf("revoking api key: %w", err)
	}
	return prefix, nil
}

func (r *PostgresKeyRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}
