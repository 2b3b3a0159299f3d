package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memos-platform/memos/internal/memos"
)

func item(id int64, score float64) scored {
	return scored{result: Result{Memo: memos.Memo{ID: id}}, score: score, rank: score}
}

func ids(items []scored) []int64 {
	out := make([]int64, len(items))
	for i, it := range items {
		out[i] = it.result.ID
	}
	return out
}

func TestSortScored_RelevanceIsStable(t *testing.T) {
	items := []scored{item(1, 0.3), item(2, 0.5), item(3, 0.3), item(4, 0.5), item(5, 0.3)}
	sortScored(items, SortRelevance)
	assert.Equal(t, []int64{2, 4, 1, 3, 5}, ids(items))
}

func TestSortScored_Importance(t *testing.T) {
	items := []scored{item(1, 0.9), item(2, 0.2), item(3, 0.5), item(4, 0.5)}
	items[0].result.Importance = 0.5
	items[1].result.Importance = 1
	items[2].result.Importance = 0.5
	items[3].result.Importance = 0.5

	sortScored(items, SortImportance)
	assert.Equal(t, []int64{2, 1, 3, 4}, ids(items))
}

func TestSortScored_Recency(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	items := []scored{item(1, 0.9), item(2, 0.2), item(3, 0.5)}
	items[0].result.CreatedAt = base
	items[1].result.CreatedAt = base.Add(2 * time.Hour)
	items[2].result.CreatedAt = base.Add(time.Hour)

	sortScored(items, SortRecency)
	assert.Equal(t, []int64{2, 3, 1}, ids(items))
}

func TestSortScored_Popularity(t *testing.T) {
	items := []scored{item(1, 0.9), item(2, 0.2), item(3, 0.5), item(4, 0.6)}
	items[0].result.AccessCount = 3
	items[1].result.AccessCount = 10
	items[2].result.AccessCount = 3
	items[3].result.AccessCount = 0

	sortScored(items, SortPopularity)
	assert.Equal(t, []int64{2, 1, 3, 4}, ids(items))
}

func TestNewRanker(t *testing.T) {
	r, err := NewRanker("")
	require.NoError(t, err)
	assert.IsType(t, WeightedRanker{}, r)

	r, err = NewRanker("rrf")
	require.NoError(t, err)
	assert.Equal(t, RRFRanker{K: 60}, r)

	_, err = NewRanker("bm25")
	assert.Error(t, err)
}

func TestRRFRanker(t *testing.T) {
	items := []scored{
		{result: Result{Memo: memos.Memo{ID: 1}}, signals: Signals{Keyword: 0.4}},
		{result: Result{Memo: memos.Memo{ID: 2}}, signals: Signals{Keyword: 0.2, Tag: 0.2, Semantic: 0.27}},
		{result: Result{Memo: memos.Memo{ID: 3}}, signals: Signals{Semantic: 0.3}},
		{result: Result{Memo: memos.Memo{ID: 4}}, signals: Signals{Importance: 0.1, Popularity: 0.05}},
	}
	RRFRanker{K: 60}.Rank(items)

	assert.InDelta(t, 1.0/61, items[0].rank, 1e-12)
	assert.InDelta(t, 1.0/62+1.0/61+1.0/62, items[1].rank, 1e-12)
	assert.InDelta(t, 1.0/61, items[2].rank, 1e-12)
	assert.Zero(t, items[3].rank)

	sortScored(items, SortRelevance)
	assert.Equal(t, []int64{2, 1, 3, 4}, ids(items))
}
