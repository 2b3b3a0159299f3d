package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedProvider memoizes embeddings in Redis keyed by model and text hash.
// Cache failures never fail a request; the wrapped provider is called instead.
type CachedProvider struct {
	next   Provider
	client redis.Cmdable
	ttl    time.Duration
}

var _ Provider = (*CachedProvider)(nil)

func NewCachedProvider(next Provider, client redis.Cmdable, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, client: client, ttl: ttl}
}

func (p *CachedProvider) Name() string {
	return p.next.Name()
}

func (p *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := p.key(text)
	if vec, ok := p.lookup(ctx, key); ok {
		return vec, nil
	}

	vec, err := p.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.store(ctx, key, vec)
	return vec, nil
}

// EmbedBatch serves cached texts from Redis and sends only the misses to
// the wrapped provider.
func (p *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, text := range texts {
		if vec, ok := p.lookup(ctx, p.key(text)); ok {
			results[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return results, nil
	}

	vecs, err := p.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(missTexts), len(vecs))
	}
	for j, vec := range vecs {
		results[missIdx[j]] = vec
		p.store(ctx, p.key(missTexts[j]), vec)
	}
	return results, nil
}

func (p *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embedding:" + p.next.Name() + ":" + hex.EncodeToString(sum[:])
}

func (p *CachedProvider) lookup(ctx context.Context, key string) ([]float32, bool) {
	raw, err := p.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("embedding: cache lookup failed", "error", err)
		}
		return nil, false
	}
	vec, err := decodeVector(raw)
	if err != nil {
		slog.Warn("embedding: dropping corrupt cache entry", "error", err, "key", key)
		p.client.Del(ctx, key)
		return nil, false
	}
	return vec, true
}

func (p *CachedProvider) store(ctx context.Context, key string, vec []float32) {
	if err := p.client.Set(ctx, key, encodeVector(vec), p.ttl).Err(); err != nil {
		slog.Warn("embedding: failed to cache embedding", "error", err)
	}
}

// encodeVector packs a vector as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid encoded vector length %d", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	if err := checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}
