package search

import (
	"fmt"
	"sort"
)

// Ranker names accepted by NewRanker.
const (
	RankerWeighted = "weighted"
	RankerRRF      = "rrf"
)

// DefaultRRFConstant is the k in 1/(k + rank).
const DefaultRRFConstant = 60

// scored is a candidate that cleared the inclusion threshold. rank is the
// value relevance ordering uses; rankers set it.
type scored struct {
	result  Result
	signals Signals
	score   float64
	rank    float64
}

// Ranker assigns the relevance rank of included candidates. Inclusion is
// always decided by the weighted score before ranking.
type Ranker interface {
	Rank(items []scored)
}

// NewRanker returns the ranker registered under name.
func NewRanker(name string) (Ranker, error) {
	switch name {
	case "", RankerWeighted:
		return WeightedRanker{}, nil
	case RankerRRF:
		return RRFRanker{K: DefaultRRFConstant}, nil
	}
	return nil, fmt.Errorf("unknown ranker %q", name)
}

// WeightedRanker ranks by the weighted relevance score.
type WeightedRanker struct{}

func (WeightedRanker) Rank(items []scored) {
	for i := range items {
		items[i].rank = items[i].score
	}
}

// RRFRanker fuses the keyword, tag and semantic rankings with reciprocal
// rank fusion: rank(d) = sum over lists of 1/(k + position(d)). A candidate
// only appears in a list when that signal is non-zero.
type RRFRanker struct {
	K float64
}

func (r RRFRanker) Rank(items []scored) {
	k := r.K
	if k <= 0 {
		k = DefaultRRFConstant
	}
	for i := range items {
		items[i].rank = 0
	}

	signals := []func(Signals) float64{
		func(s Signals) float64 { return s.Keyword },
		func(s Signals) float64 { return s.Tag },
		func(s Signals) float64 { return s.Semantic },
	}
	for _, signal := range signals {
		var idx []int
		for i := range items {
			if signal(items[i].signals) > 0 {
				idx = append(idx, i)
			}
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return signal(items[idx[a]].signals) > signal(items[idx[b]].signals)
		})
		for pos, i := range idx {
			items[i].rank += 1 / (k + float64(pos+1))
		}
	}
}

// sortScored orders items in place. Ties keep store order.
func sortScored(items []scored, by SortBy) {
	var less func(a, b *scored) bool
	switch by {
	case SortImportance:
		less = func(a, b *scored) bool {
			if a.result.Importance != b.result.Importance {
				return a.result.Importance > b.result.Importance
			}
			return a.rank > b.rank
		}
	case SortRecency:
		less = func(a, b *scored) bool {
			return a.result.CreatedAt.After(b.result.CreatedAt)
		}
	case SortPopularity:
		less = func(a, b *scored) bool {
			if a.result.AccessCount != b.result.AccessCount {
				return a.result.AccessCount > b.result.AccessCount
			}
			return a.rank > b.rank
		}
	default:
		less = func(a, b *scored) bool {
			return a.rank > b.rank
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return less(&items[i], &items[j])
	})
}
