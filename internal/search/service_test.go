package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memos-platform/memos/internal/memos"
	"github.com/memos-platform/memos/internal/metrics"
)

type fakeStore struct {
	mu         sync.Mutex
	candidates []memos.Candidate
	err        error
	calls      int
	last       memos.CandidateQuery

	// started and release, when set, hold the fetch until release is closed.
	started chan struct{}
	release chan struct{}
}

func (f *fakeStore) QueryCandidates(_ context.Context, q memos.CandidateQuery) (memos.CandidateSet, error) {
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = q
	if f.err != nil {
		return memos.CandidateSet{}, f.err
	}
	out := make([]memos.Candidate, len(f.candidates))
	copy(out, f.candidates)
	set := memos.CandidateSet{Candidates: out, Matched: len(out)}
	if q.Limit > 0 && len(out) > q.Limit {
		set.Candidates = out[:q.Limit]
	}
	return set, nil
}

type fakeEmbedder struct {
	vec   []float32
	err   error
	block bool
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.vec, f.err
}

func memo(id int64, content string) memos.Candidate {
	return memos.Candidate{Memo: memos.Memo{
		ID:         id,
		OwnerID:    "owner-1",
		Content:    content,
		Importance: 1,
		AuthorRole: memos.RoleUser,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour),
	}}
}

func newTestService(store RecordStore, embedder Embedder) *Service {
	return NewService(store, embedder, NewCache(100, time.Minute), Options{})
}

func resultIDs(results []Result) []int64 {
	out := make([]int64, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func query(text string) Query {
	return Query{OwnerID: "owner-1", Text: text}
}

func TestSearch_Validation(t *testing.T) {
	store := &fakeStore{}
	svc := newTestService(store, nil)

	start := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)

	tests := []struct {
		name  string
		query Query
		field string
	}{
		{"missing owner", Query{Text: "hello"}, "owner"},
		{"one character", query("a"), "query"},
		{"blank after trim", query("   a   "), "query"},
		{"too long", query(strings.Repeat("x", 501)), "query"},
		{"negative limit", Query{OwnerID: "o", Text: "hello", Limit: -1}, "limit"},
		{"limit above max", Query{OwnerID: "o", Text: "hello", Limit: 101}, "limit"},
		{"unknown sort", Query{OwnerID: "o", Text: "hello", SortBy: "random"}, "sort_by"},
		{"unknown role", Query{OwnerID: "o", Text: "hello", Filters: Filters{AuthorRole: "admin"}}, "author_role"},
		{"importance below zero", Query{OwnerID: "o", Text: "hello", Filters: Filters{MinImportance: ptr(-0.1)}}, "min_importance"},
		{"importance above one", Query{OwnerID: "o", Text: "hello", Filters: Filters{MaxImportance: ptr(1.5)}}, "max_importance"},
		{"min above max", Query{OwnerID: "o", Text: "hello", Filters: Filters{MinImportance: ptr(0.8), MaxImportance: ptr(0.2)}}, "importance"},
		{"inverted date range", Query{OwnerID: "o", Text: "hello", Filters: Filters{DateRange: &DateRange{Start: &start, End: &end}}}, "date_range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(context.Background(), tt.query)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
	assert.Zero(t, store.calls)
}

func TestSearch_BoundaryLengthsAccepted(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil)

	_, err := svc.Search(context.Background(), query("ab"))
	assert.NoError(t, err)
	_, err = svc.Search(context.Background(), query(strings.Repeat("é", 500)))
	assert.NoError(t, err)
}

func TestSearch_InvoiceScenario(t *testing.T) {
	store := &fakeStore{candidates: []memos.Candidate{
		memo(1, "invoicing system overview"),
		memo(2, "Please review the invoice"),
	}}
	svc := newTestService(store, nil)

	results, err := svc.Search(context.Background(), Query{OwnerID: "owner-1", Text: "invoice", Debug: true})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, resultIDs(results))
	assert.Greater(t, *results[0].Score, *results[1].Score)
}

func TestSearch_ThresholdExcludesLoneCandidate(t *testing.T) {
	store := &fakeStore{candidates: []memos.Candidate{memo(1, "nothing relevant")}}
	svc := newTestService(store, nil)

	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestSearch_LimitTruncatesAfterSorting(t *testing.T) {
	var cands []memos.Candidate
	for i := int64(1); i <= 12; i++ {
		c := memo(i, "the invoice")
		c.Importance = float64(i) / 12
		cands = append(cands, c)
	}
	svc := newTestService(&fakeStore{candidates: cands}, nil)

	results, err := svc.Search(context.Background(), Query{OwnerID: "owner-1", Text: "invoice", Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 11, 10, 9, 8}, resultIDs(results))
}

func TestSearch_DefaultLimit(t *testing.T) {
	var cands []memos.Candidate
	for i := int64(1); i <= 15; i++ {
		cands = append(cands, memo(i, "invoice"))
	}
	svc := newTestService(&fakeStore{candidates: cands}, nil)

	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Len(t, results, DefaultLimit)
}

func TestSearch_RecencyIgnoresScore(t *testing.T) {
	strong := memo(1, "the invoice")
	weak := memo(3, "invoicing")
	mid := memo(2, "an invoice")
	svc := newTestService(&fakeStore{candidates: []memos.Candidate{strong, weak, mid}}, nil)

	results, err := svc.Search(context.Background(), Query{OwnerID: "owner-1", Text: "invoice", SortBy: SortRecency})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 2, 1}, resultIDs(results))
	for i := 1; i < len(results); i++ {
		assert.True(t, results[i-1].CreatedAt.After(results[i].CreatedAt))
	}
}

func TestSearch_IncludePopularBreaksTie(t *testing.T) {
	cold := memo(1, "the invoice")
	cold.AccessCount = 10
	hot := memo(2, "the invoice")
	hot.AccessCount = 80
	svc := newTestService(&fakeStore{candidates: []memos.Candidate{cold, hot}}, nil)

	results, err := svc.Search(context.Background(), Query{
		OwnerID: "owner-1", Text: "invoice", Filters: Filters{IncludePopular: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, resultIDs(results))

	results, err = svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, resultIDs(results), "without the bonus store order is kept")
}

func TestSearch_StableTiesKeepStoreOrder(t *testing.T) {
	svc := newTestService(&fakeStore{candidates: []memos.Candidate{
		memo(5, "the invoice"), memo(3, "the invoice"), memo(9, "the invoice"),
	}}, nil)

	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 3, 9}, resultIDs(results))
}

func TestSearch_SortByImportanceAndPopularity(t *testing.T) {
	a := memo(1, "the invoice")
	a.Importance = 0.2
	a.AccessCount = 50
	b := memo(2, "invoicing")
	b.Importance = 0.9
	b.AccessCount = 50
	c := memo(3, "the invoice")
	c.Importance = 0.9
	c.AccessCount = 5
	svc := newTestService(&fakeStore{candidates: []memos.Candidate{a, b, c}}, nil)

	results, err := svc.Search(context.Background(), Query{OwnerID: "owner-1", Text: "invoice", SortBy: SortImportance})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2, 1}, resultIDs(results))

	results, err = svc.Search(context.Background(), Query{OwnerID: "owner-1", Text: "invoice", SortBy: SortPopularity})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, resultIDs(results))
}

func TestSearch_SemanticSignal(t *testing.T) {
	related := memo(1, "quarterly billing")
	related.Distance = ptr(0.1)
	unrelated := memo(2, "quarterly billing")
	unrelated.Distance = ptr(0.6)
	keyword := memo(3, "billing run")

	embedder := &fakeEmbedder{vec: axis(0)}
	store := &fakeStore{candidates: []memos.Candidate{unrelated, keyword, related}}
	svc := newTestService(store, embedder)

	results, err := svc.Search(context.Background(), Query{OwnerID: "owner-1", Text: "invoices", Debug: true})
	require.NoError(t, err)
	require.Equal(t, []int64{1}, resultIDs(results))
	assert.InDelta(t, 0.9*0.3+0.1, *results[0].Score, 1e-9)
	assert.Equal(t, axis(0), store.last.Embedding)
}

func TestSearch_EmbeddingFailureDegrades(t *testing.T) {
	c := memo(1, "the invoice")
	c.Distance = ptr(0.0)
	store := &fakeStore{candidates: []memos.Candidate{c}}
	svc := newTestService(store, &fakeEmbedder{err: errors.New("provider down")})

	results, err := svc.Search(context.Background(), Query{OwnerID: "owner-1", Text: "invoice", Debug: true})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, *results[0].Score, 1e-12)
	assert.Nil(t, store.last.Embedding)
}

func TestSearch_WrongDimensionEmbeddingDegrades(t *testing.T) {
	store := &fakeStore{candidates: []memos.Candidate{memo(1, "the invoice")}}
	svc := newTestService(store, &fakeEmbedder{vec: []float32{1, 2, 3}})

	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Nil(t, store.last.Embedding)
}

func TestSearch_EmbeddingTimeoutDegrades(t *testing.T) {
	store := &fakeStore{candidates: []memos.Candidate{memo(1, "the invoice")}}
	svc := NewService(store, &fakeEmbedder{block: true}, nil, Options{EmbedTimeout: 10 * time.Millisecond})

	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 1, store.calls)
}

func TestSearch_CallerCancellation(t *testing.T) {
	store := &fakeStore{candidates: []memos.Candidate{memo(1, "the invoice")}}
	cache := NewCache(10, time.Minute)
	svc := NewService(store, &fakeEmbedder{block: true}, cache, Options{EmbedTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Search(ctx, query("invoice"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.calls)
	assert.Zero(t, cache.Len())
}

func TestSearch_StoreErrorIsFatalAndNotCached(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	cache := NewCache(10, time.Minute)
	svc := NewService(store, nil, cache, Options{})

	_, err := svc.Search(context.Background(), query("invoice"))
	require.Error(t, err)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "record_store", depErr.Dependency)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Zero(t, cache.Len())

	store.err = nil
	store.candidates = []memos.Candidate{memo(1, "the invoice")}
	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 2, store.calls)
}

func TestSearch_CacheRoundTrip(t *testing.T) {
	store := &fakeStore{candidates: []memos.Candidate{memo(1, "the invoice"), memo(2, "invoice again")}}
	embedder := &fakeEmbedder{vec: axis(0)}
	svc := newTestService(store, embedder)
	ctx := context.Background()

	first, err := svc.Search(ctx, Query{OwnerID: "owner-1", Text: "Invoice", Filters: Filters{Tags: []string{"b", "a"}}})
	require.NoError(t, err)
	store.candidates = nil

	second, err := svc.Search(ctx, Query{OwnerID: "owner-1", Text: "  invoice ", Filters: Filters{Tags: []string{"A", "b"}}})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, embedder.calls)
}

func TestSearch_InvalidateOwnerForcesRecompute(t *testing.T) {
	store := &fakeStore{candidates: []memos.Candidate{memo(1, "the invoice")}}
	cache := NewCache(10, time.Minute)
	svc := NewService(store, nil, cache, Options{})
	ctx := context.Background()

	_, err := svc.Search(ctx, query("invoice"))
	require.NoError(t, err)

	cache.InvalidateOwner("owner-1")
	store.candidates = append(store.candidates, memo(2, "new invoice"))

	results, err := svc.Search(ctx, query("invoice"))
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, store.calls)
}

func TestSearch_InvalidationDuringFetchIsNotCached(t *testing.T) {
	store := &fakeStore{
		candidates: []memos.Candidate{memo(1, "the invoice")},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	cache := NewCache(10, time.Minute)
	svc := NewService(store, nil, cache, Options{})
	ctx := context.Background()

	done := make(chan []Result, 1)
	go func() {
		results, err := svc.Search(ctx, query("invoice"))
		assert.NoError(t, err)
		done <- results
	}()

	<-store.started
	cache.InvalidateOwner("owner-1")
	close(store.release)
	stale := <-done
	assert.Equal(t, []int64{1}, resultIDs(stale))
	assert.Zero(t, cache.Len())

	store.mu.Lock()
	store.started = nil
	store.candidates = []memos.Candidate{memo(2, "new invoice"), memo(1, "the invoice")}
	store.mu.Unlock()

	results, err := svc.Search(ctx, query("invoice"))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, resultIDs(results))
	assert.Equal(t, 2, store.calls)
	assert.Equal(t, 1, cache.Len())
}

func TestSearch_OtherOwnerInvalidationStillCaches(t *testing.T) {
	store := &fakeStore{
		candidates: []memos.Candidate{memo(1, "the invoice")},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	cache := NewCache(10, time.Minute)
	svc := NewService(store, nil, cache, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := svc.Search(context.Background(), query("invoice"))
		assert.NoError(t, err)
	}()

	<-store.started
	cache.InvalidateOwner("owner-2")
	close(store.release)
	<-done
	assert.Equal(t, 1, cache.Len())
}

func TestSearch_CandidatesUncappedByDefault(t *testing.T) {
	var cands []memos.Candidate
	for i := int64(1200); i >= 1; i-- {
		cands = append(cands, memo(i, "lunch plans"))
	}
	cands[len(cands)-1].Content = "the oldest invoice"
	store := &fakeStore{candidates: cands}
	svc := newTestService(store, nil)

	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Zero(t, store.last.Limit)
	assert.Equal(t, []int64{1}, resultIDs(results))
}

func TestSearch_CandidateLimitReportsTruncation(t *testing.T) {
	var cands []memos.Candidate
	for i := int64(5); i >= 1; i-- {
		cands = append(cands, memo(i, fmt.Sprintf("invoice %d", i)))
	}
	store := &fakeStore{candidates: cands}
	svc := NewService(store, nil, nil, Options{CandidateLimit: 3})

	before := testutil.ToFloat64(metrics.SearchCandidatesTruncatedTotal)
	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Equal(t, 3, store.last.Limit)
	assert.Equal(t, []int64{5, 4, 3}, resultIDs(results))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SearchCandidatesTruncatedTotal))

	svc = NewService(store, nil, nil, Options{CandidateLimit: 5})
	_, err = svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.SearchCandidatesTruncatedTotal))
}

func TestSearch_DebugControlsScore(t *testing.T) {
	svc := newTestService(&fakeStore{candidates: []memos.Candidate{memo(1, "the invoice")}}, nil)
	ctx := context.Background()

	results, err := svc.Search(ctx, query("invoice"))
	require.NoError(t, err)
	assert.Nil(t, results[0].Score)

	q := query("invoice")
	q.Debug = true
	results, err = svc.Search(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, results[0].Score)
	assert.InDelta(t, 0.5, *results[0].Score, 1e-12)
}

func TestSearch_DoesNotMutateAccessCount(t *testing.T) {
	c := memo(1, "the invoice")
	c.AccessCount = 7
	store := &fakeStore{candidates: []memos.Candidate{c}}
	svc := newTestService(store, nil)

	for i := 0; i < 3; i++ {
		results, err := svc.Search(context.Background(), query("invoice"))
		require.NoError(t, err)
		assert.Equal(t, int64(7), results[0].AccessCount)
	}
	assert.Equal(t, int64(7), store.candidates[0].AccessCount)
}

func TestSearch_PushesDownFilters(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, nil, nil, Options{CandidateLimit: 250})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	_, err := svc.Search(context.Background(), Query{
		OwnerID: "owner-1",
		Text:    "invoice",
		Filters: Filters{
			SessionID:     "sess",
			AuthorRole:    memos.RoleAgent,
			Tags:          []string{"Finance"},
			MinImportance: ptr(0.2),
			MaxImportance: ptr(0.8),
			DateRange:     &DateRange{Start: &start, End: &end},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 250, store.last.Limit)
	assert.Equal(t, "invoice", store.last.Text)
	assert.InDelta(t, 0.3, store.last.MaxDistance, 1e-12)
	assert.Equal(t, []memos.Predicate{
		{Column: memos.ColOwnerID, Op: memos.OpEq, Value: "owner-1"},
		{Column: memos.ColSessionID, Op: memos.OpEq, Value: "sess"},
		{Column: memos.ColAuthorRole, Op: memos.OpEq, Value: memos.RoleAgent},
		{Column: memos.ColImportance, Op: memos.OpGTE, Value: 0.2},
		{Column: memos.ColImportance, Op: memos.OpLTE, Value: 0.8},
		{Column: memos.ColCreatedAt, Op: memos.OpGTE, Value: start},
		{Column: memos.ColCreatedAt, Op: memos.OpLTE, Value: end},
		{Column: memos.ColTags, Op: memos.OpOverlap, Value: []string{"finance"}},
	}, store.last.Predicates)
}

func TestSearch_RRFRanker(t *testing.T) {
	kw := memo(1, "the invoice")
	sem := memo(2, "billing")
	sem.Distance = ptr(0.05)
	both := memo(3, "the invoice")
	both.Distance = ptr(0.2)

	store := &fakeStore{candidates: []memos.Candidate{kw, sem, both}}
	svc := NewService(store, &fakeEmbedder{vec: axis(0)}, nil, Options{Ranker: RRFRanker{K: 60}})

	results, err := svc.Search(context.Background(), query("invoice"))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 1, 2}, resultIDs(results))
}

func TestSearch_ConcurrentRequests(t *testing.T) {
	var cands []memos.Candidate
	for i := int64(1); i <= 30; i++ {
		cands = append(cands, memo(i, fmt.Sprintf("invoice %d", i)))
	}
	svc := newTestService(&fakeStore{candidates: cands}, nil)

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			q := Query{OwnerID: "owner-1", Text: "invoice", Limit: 1 + g%5}
			results, err := svc.Search(context.Background(), q)
			assert.NoError(t, err)
			assert.Len(t, results, q.Limit)
		}(g)
	}
	wg.Wait()
}
