package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeKeyRepo struct {
	mu      sync.Mutex
	keys    map[uuid.UUID]*APIKey
	touches int
}

func newFakeKeyRepo() *fakeKeyRepo {
	return &fakeKeyRepo{keys: make(map[uuid.UUID]*APIKey)}
}

func (f *fakeKeyRepo) Create(_ context.Context, key *APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key.ID = uuid.New()
	key.CreatedAt = time.Now()
	cp := *key
	f.keys[key.ID] = &cp
	return nil
}

func (f *fakeKeyRepo) FindActiveByPrefix(_ context.Context, prefix string) (*APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.Prefix == prefix && k.RevokedAt == nil {
			cp := *k
			return &cp, nil
		}
	}
	return nil, ErrKeyNotFound
}

func (f *fakeKeyRepo) ListByOwner(_ context.Context, ownerID string) ([]APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []APIKey
	for _, k := range f.keys {
		if k.OwnerID == ownerID {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (f *fakeKeyRepo) Revoke(_ context.Context, ownerID string, id uuid.UUID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, ok := f.keys[id]
	if !ok || k.OwnerID != ownerID || k.RevokedAt != nil {
		return "", ErrKeyNotFound
	}
	now := time.Now()
	k.RevokedAt = &now
	return k.Prefix, nil
}

func (f *fakeKeyRepo) TouchLastUsed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches++
	return nil
}

func setupService(t *testing.T) (*Service, *fakeKeyRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := newFakeKeyRepo()
	svc := NewService(NewJWTVerifier(testSecret, ""), repo, client, bcrypt.MinCost, time.Minute)
	return svc, repo, mr
}

func TestGenerateAndParseAPIKey(t *testing.T) {
	raw, prefix, secret, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Equal(t, "memos_"+prefix+"_"+secret, raw)

	p, s, err := ParseAPIKey(raw)
	require.NoError(t, err)
	assert.Equal(t, prefix, p)
	assert.Equal(t, secret, s)

	for _, bad := range []string{"", "memos_abc", "other_12345678_" + secret, "memos_1234567_" + secret, "memos_12345678_short"} {
		_, _, err := ParseAPIKey(bad)
		assert.ErrorIs(t, err, ErrMalformedKey, bad)
	}
}

func TestService_APIKeyLifecycle(t *testing.T) {
	svc, repo, mr := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateAPIKey(ctx, "owner-1", &CreateAPIKeyRequest{Name: "cli"})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Key)
	assert.NotContains(t, created.Hash, created.Key)

	t.Run("first use verifies against the store", func(t *testing.T) {
		p, err := svc.AuthenticateAPIKey(ctx, created.Key)
		require.NoError(t, err)
		assert.Equal(t, "owner-1", p.OwnerID)
		assert.Equal(t, MethodAPIKey, p.Method)
		assert.Equal(t, 1, repo.touches)
		assert.True(t, mr.Exists("apikey:"+created.Prefix))
	})

	t.Run("second use is served from cache", func(t *testing.T) {
		p, err := svc.AuthenticateAPIKey(ctx, created.Key)
		require.NoError(t, err)
		assert.Equal(t, "owner-1", p.OwnerID)
		assert.Equal(t, 1, repo.touches)
	})

	t.Run("wrong secret with known prefix", func(t *testing.T) {
		forged := "memos_" + created.Prefix + "_" + "00000000000000000000000000000000"
		_, err := svc.AuthenticateAPIKey(ctx, forged)
		assert.ErrorIs(t, err, ErrKeyMismatch)
	})

	t.Run("cache expiry falls back to the store", func(t *testing.T) {
		mr.FastForward(2 * time.Minute)
		assert.False(t, mr.Exists("apikey:"+created.Prefix))
		_, err := svc.AuthenticateAPIKey(ctx, created.Key)
		require.NoError(t, err)
		assert.Equal(t, 2, repo.touches)
	})

	t.Run("revoked key is rejected immediately", func(t *testing.T) {
		require.NoError(t, svc.RevokeAPIKey(ctx, "owner-1", created.ID))
		assert.False(t, mr.Exists("apikey:"+created.Prefix))
		_, err := svc.AuthenticateAPIKey(ctx, created.Key)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})

	t.Run("revoking twice is not found", func(t *testing.T) {
		err := svc.RevokeAPIKey(ctx, "owner-1", created.ID)
		assert.ErrorIs(t, err, ErrKeyNotFound)
	})
}

func TestService_RevokeOtherOwnersKey(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	created, err := svc.CreateAPIKey(ctx, "owner-1", &CreateAPIKeyRequest{Name: "cli"})
	require.NoError(t, err)

	err = svc.RevokeAPIKey(ctx, "owner-2", created.ID)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = svc.AuthenticateAPIKey(ctx, created.Key)
	assert.NoError(t, err)
}

func TestService_WithoutRedis(t *testing.T) {
	repo := newFakeKeyRepo()
	svc := NewService(NewJWTVerifier(testSecret, ""), repo, nil, bcrypt.MinCost, time.Minute)
	ctx := context.Background()

	created, err := svc.CreateAPIKey(ctx, "owner-1", &CreateAPIKeyRequest{Name: "ci"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := svc.AuthenticateAPIKey(ctx, created.Key)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, repo.touches)
}
