// Package search ranks an owner's memos against a text query by combining
// keyword, tag, semantic and importance signals.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/memos-platform/memos/internal/memos"
	"github.com/memos-platform/memos/internal/metrics"
)

// Service defaults.
const (
	DefaultLimit        = 10
	DefaultMaxLimit     = 100
	DefaultEmbedTimeout = 5 * time.Second
)

// RecordStore fetches filtered candidates in store order.
type RecordStore interface {
	QueryCandidates(ctx context.Context, q memos.CandidateQuery) (memos.CandidateSet, error)
}

// Embedder turns query text into an embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options configures a Service. Zero values take the package defaults.
// CandidateLimit <= 0 scores every memo that passes the filters.
type Options struct {
	Scorer         ScorerConfig
	Ranker         Ranker
	EmbedTimeout   time.Duration
	CandidateLimit int
	DefaultLimit   int
	MaxLimit       int
}

// Service is the search orchestrator.
type Service struct {
	store    RecordStore
	embedder Embedder
	cache    *Cache
	scorer   *Scorer
	ranker   Ranker
	opts     Options
}

// NewService creates a search service. embedder and cache may be nil, which
// disables the semantic term and result caching respectively.
func NewService(store RecordStore, embedder Embedder, cache *Cache, opts Options) *Service {
	if opts.Scorer == (ScorerConfig{}) {
		opts.Scorer = DefaultScorerConfig()
	}
	if opts.Ranker == nil {
		opts.Ranker = WeightedRanker{}
	}
	if opts.EmbedTimeout <= 0 {
		opts.EmbedTimeout = DefaultEmbedTimeout
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = DefaultMaxLimit
	}
	return &Service{
		store:    store,
		embedder: embedder,
		cache:    cache,
		scorer:   NewScorer(opts.Scorer),
		ranker:   opts.Ranker,
		opts:     opts,
	}
}

// Search returns the owner's memos ranked against q. Only validation errors,
// record store failures and caller cancellation are returned; embedding and
// cache failures degrade the search instead.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	start := time.Now()
	if err := q.validate(s.opts.DefaultLimit, s.opts.MaxLimit); err != nil {
		return nil, err
	}
	defer func() {
		metrics.SearchDuration.WithLabelValues(string(q.SortBy)).Observe(time.Since(start).Seconds())
	}()

	key := s.cacheKey(q)
	if key != "" {
		if cached, ok := s.cache.Get(key); ok {
			metrics.SearchCacheTotal.WithLabelValues("hit").Inc()
			metrics.SearchResultsReturned.Observe(float64(len(cached)))
			return present(cached, q.Debug), nil
		}
		metrics.SearchCacheTotal.WithLabelValues("miss").Inc()
	}

	// Results computed across an invalidation of this owner are not cached.
	var gen uint64
	if key != "" {
		gen = s.cache.Generation(q.OwnerID)
	}

	queryEmbedding := s.embedQuery(ctx, q)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set, err := s.store.QueryCandidates(ctx, memos.CandidateQuery{
		Predicates:  q.storeFilter().Predicates(),
		Embedding:   queryEmbedding,
		Text:        normalizeText(q.Text),
		MaxDistance: 1 - s.opts.Scorer.SimilarityThreshold,
		Limit:       s.opts.CandidateLimit,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &DependencyError{Dependency: "record_store", Err: err}
	}
	metrics.SearchCandidates.Observe(float64(len(set.Candidates)))
	if set.Truncated() {
		metrics.SearchCandidatesTruncatedTotal.Inc()
		slog.Warn("search: candidate limit reached, scoring prioritized subset",
			"owner_id", q.OwnerID, "matched", set.Matched, "limit", s.opts.CandidateLimit)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := s.rank(q, queryEmbedding, set.Candidates)
	metrics.SearchResultsReturned.Observe(float64(len(results)))

	if key != "" && !s.cache.SetIfCurrent(q.OwnerID, gen, key, results) {
		slog.Debug("search: owner invalidated during search, result not cached", "owner_id", q.OwnerID)
	}
	return present(results, q.Debug), nil
}

// rank scores, filters, sorts and truncates candidates.
func (s *Service) rank(q Query, queryEmbedding []float32, candidates []memos.Candidate) []Result {
	m := newMatcher(q.Text, q.Filters.Tags, queryEmbedding, q.Filters.IncludePopular)

	items := make([]scored, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		sig := s.scorer.Score(m, c)
		total := sig.Total()
		if !s.scorer.Include(total) {
			continue
		}
		items = append(items, scored{
			result:  Result{Memo: c.Memo},
			signals: sig,
			score:   total,
		})
	}

	s.ranker.Rank(items)
	sortScored(items, q.SortBy)
	if len(items) > q.Limit {
		items = items[:q.Limit]
	}

	results := make([]Result, len(items))
	for i := range items {
		score := items[i].score
		results[i] = items[i].result
		results[i].Embedding = nil
		results[i].Score = &score
	}
	return results
}

// embedQuery returns the query embedding, or nil when the provider is
// missing, fails or exceeds the embed timeout.
func (s *Service) embedQuery(ctx context.Context, q Query) []float32 {
	if s.embedder == nil {
		return nil
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.opts.EmbedTimeout)
	defer cancel()

	vec, err := s.embedder.Embed(embedCtx, q.Text)
	if err == nil && len(vec) != memos.EmbeddingDimension {
		err = fmt.Errorf("query embedding has %d dimensions, want %d", len(vec), memos.EmbeddingDimension)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		slog.Warn("search: embedding unavailable, continuing without semantic signal",
			"error", err, "reason", reason, "owner_id", q.OwnerID)
		metrics.EmbeddingFailuresTotal.WithLabelValues("search").Inc()
		return nil
	}
	return vec
}

func (s *Service) cacheKey(q Query) string {
	if s.cache == nil {
		return ""
	}
	key, err := CacheKey(q)
	if err != nil {
		slog.Warn("search: running uncached", "error", err)
		return ""
	}
	return key
}

// present copies results for the caller, dropping scores unless debug is set.
func present(results []Result, debug bool) []Result {
	out := copyResults(results)
	if !debug {
		for i := range out {
			out[i].Score = nil
		}
	}
	return out
}
