package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/memos-platform/memos/internal/auth"
	"github.com/memos-platform/memos/internal/config"
	"github.com/memos-platform/memos/internal/database"
	"github.com/memos-platform/memos/internal/embedding"
	"github.com/memos-platform/memos/internal/events"
	"github.com/memos-platform/memos/internal/memos"
	iredis "github.com/memos-platform/memos/internal/redis"
	"github.com/memos-platform/memos/internal/search"
)

var errNATSDisconnected = errors.New("nats disconnected")

// app holds the wired services shared by the serve and mcp commands.
type app struct {
	pool        *pgxpool.Pool
	redisClient *redis.Client
	natsClient  *events.Client

	authSvc   *auth.Service
	memoSvc   *memos.Service
	searchSvc *search.Service
	cache     *search.Cache
	consumer  *events.InvalidationConsumer
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error

	// PostgreSQL
	a.pool, err = database.NewPostgresPool(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	// Redis
	a.redisClient, err = iredis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	// Auth
	verifier := auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTAudience)
	keyRepo := auth.NewPostgresKeyRepository(a.pool)
	a.authSvc = auth.NewService(verifier, keyRepo, a.redisClient, cfg.Auth.BcryptCost, cfg.Auth.KeyCacheTTL)

	// Embeddings
	var embedder embedding.Provider
	if cfg.Embedding.Provider == "openai" {
		provider, err := embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		embedder = embedding.NewCachedProvider(provider, a.redisClient, cfg.Embedding.CacheTTL)
		slog.Info("embedding provider ready", "provider", embedder.Name())
	}

	// Search
	ranker, err := search.NewRanker(cfg.Search.Ranker)
	if err != nil {
		return nil, err
	}
	a.cache = search.NewCache(cfg.Search.CacheSize, cfg.Search.CacheTTL)
	memoRepo := memos.NewPostgresRepository(a.pool)

	var searchEmbedder search.Embedder
	var memoEmbedder memos.Embedder
	if embedder != nil {
		searchEmbedder = embedder
		memoEmbedder = embedder
	}

	a.searchSvc = search.NewService(memoRepo, searchEmbedder, a.cache, search.Options{
		Scorer:         scorerConfig(cfg.Search),
		Ranker:         ranker,
		EmbedTimeout:   cfg.Embedding.Timeout,
		CandidateLimit: cfg.Search.CandidateLimit,
		DefaultLimit:   cfg.Search.DefaultLimit,
		MaxLimit:       cfg.Search.MaxLimit,
	})

	// NATS (optional)
	var publisher memos.EventPublisher
	if cfg.NATS.URL != "" {
		a.natsClient, err = events.NewClient(ctx, cfg.NATS)
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		origin := uuid.NewString()
		publisher = events.NewPublisher(a.natsClient.JetStream(), origin)
		a.consumer = events.NewInvalidationConsumer(a.natsClient.JetStream(), a.natsClient.Stream(), origin, a.cache)
	}

	a.memoSvc = memos.NewService(memoRepo, memoEmbedder, a.cache, publisher)

	ok = true
	return a, nil
}

// runConsumer blocks until ctx is cancelled; it returns at once when NATS is not configured.
func (a *app) runConsumer(ctx context.Context) error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Run(ctx)
}

func (a *app) Close() {
	if a.natsClient != nil {
		a.natsClient.Close()
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func scorerConfig(cfg config.SearchConfig) search.ScorerConfig {
	sc := search.DefaultScorerConfig()
	sc.Weights = search.Weights{
		Keyword:    cfg.KeywordWeight,
		Tag:        cfg.TagWeight,
		Semantic:   cfg.SemanticWeight,
		Importance: cfg.ImportanceWeight,
	}
	sc.Threshold = cfg.Threshold
	sc.SimilarityThreshold = cfg.SimilarityThreshold
	sc.PopularityBonus = cfg.PopularityBonus
	return sc
}
