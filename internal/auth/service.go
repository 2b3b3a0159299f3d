package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Authentication methods recorded on a Principal.
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	OwnerID string
	Method  string
	KeyID   uuid.UUID
}

type Service struct {
	verifier    *JWTVerifier
	keys        KeyRepository
	redisClient *redis.Client
	bcryptCost  int
	cacheTTL    time.Duration
}

// NewService creates the authentication service. redisClient may be nil, in
// which case every API key request is verified against the database.
func NewService(verifier *JWTVerifier, keys KeyRepository, redisClient *redis.Client, bcryptCost int, cacheTTL time.Duration) *Service {
	return &Service{
		verifier:    verifier,
		keys:        keys,
		redisClient: redisClient,
		bcryptCost:  bcryptCost,
		cacheTTL:    cacheTTL,
	}
}

func (s *Service) AuthenticateToken(token string) (*Principal, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	return &Principal{OwnerID: claims.Subject, Method: MethodJWT}, nil
}

// AuthenticateAPIKey resolves a raw key to its owner. Successful
// verifications are cached in Redis under the key prefix so bcrypt runs at
// most once per cache TTL; last_used_at is touched on those slow-path checks.
func (s *Service) AuthenticateAPIKey(ctx context.Context, raw string) (*Principal, error) {
	prefix, secret, err := ParseAPIKey(raw)
	if err != nil {
		return nil, err
	}

	if p, ok := s.cachedKey(ctx, prefix, raw); ok {
		return p, nil
	}

	key, err := s.keys.FindActiveByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if err := CompareSecret(key.Hash, secret); err != nil {
		return nil, err
	}

	if err := s.keys.TouchLastUsed(ctx, key.ID); err != nil {
		slog.Warn("auth: failed to touch api key", "error", err, "key_id", key.ID)
	}
	s.cacheKey(ctx, prefix, raw, key)

	return &Principal{OwnerID: key.OwnerID, Method: MethodAPIKey, KeyID: key.ID}, nil
}

// CreateAPIKey issues a new key for ownerID. The full key is only returned here.
func (s *Service) CreateAPIKey(ctx context.Context, ownerID string, req *CreateAPIKeyRequest) (*CreatedAPIKey, error) {
	raw, prefix, secret, err := GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	hash, err := HashSecret(secret, s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hashing api key: %w", err)
	}

	key := &APIKey{
		OwnerID: ownerID,
		Name:    req.Name,
		Prefix:  prefix,
		Hash:    hash,
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}
	return &CreatedAPIKey{APIKey: *key, Key: raw}, nil
}

func (s *Service) ListAPIKeys(ctx context.Context, ownerID string) ([]APIKey, error) {
	return s.keys.ListByOwner(ctx, ownerID)
}

// RevokeAPIKey revokes a key and drops its cached verification.
func (s *Service) RevokeAPIKey(ctx context.Context, ownerID string, id uuid.UUID) error {
	prefix, err := s.keys.Revoke(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if s.redisClient != nil {
		if err := s.redisClient.Del(ctx, cacheKeyFor(prefix)).Err(); err != nil {
			return fmt.Errorf("dropping cached api key: %w", err)
		}
	}
	return nil
}

func cacheKeyFor(prefix string) string {
	return "apikey:" + prefix
}

func (s *Service) cachedKey(ctx context.Context, prefix, raw string) (*Principal, bool) {
	if s.redisClient == nil {
		return nil, false
	}
	vals, err := s.redisClient.HGetAll(ctx, cacheKeyFor(prefix)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("auth: api key cache lookup failed", "error", err)
		}
		return nil, false
	}
	if len(vals) == 0 || vals["digest"] != keyDigest(raw) {
		return nil, false
	}
	id, err := uuid.Parse(vals["key_id"])
	if err != nil {
		return nil, false
	}
	return &Principal{OwnerID: vals["owner_id"], Method: MethodAPIKey, KeyID: id}, true
}

func (s *Service) cacheKey(ctx context.Context, prefix, raw string, key *APIKey) {
	if s.redisClient == nil || s.cacheTTL <= 0 {
		return
	}
	k := cacheKeyFor(prefix)
	pipe := s.redisClient.Pipeline()
	pipe.HSet(ctx, k, "digest", keyDigest(raw), "owner_id", key.OwnerID, "key_id", key.ID.String())
	pipe.Expire(ctx, k, s.cacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("auth: failed to cache api key", "error", err)
	}
}
