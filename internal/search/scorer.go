package search

import (
	"math"
	"regexp"
	"strings"

	"github.com/memos-platform/memos/internal/memos"
)

// Weights are the per-signal contributions to the relevance score.
type Weights struct {
	Keyword    float64
	Tag        float64
	Semantic   float64
	Importance float64
}

func DefaultWeights() Weights {
	return Weights{
		Keyword:    0.4,
		Tag:        0.2,
		Semantic:   0.3,
		Importance: 0.1,
	}
}

// Sum is the highest score reachable without the popularity bonus.
func (w Weights) Sum() float64 {
	return w.Keyword + w.Tag + w.Semantic + w.Importance
}

// ScorerConfig configures relevance scoring.
type ScorerConfig struct {
	Weights             Weights
	Threshold           float64
	SimilarityThreshold float64
	PopularityBonus     float64
	PopularityCap       int64
}

func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		Weights:             DefaultWeights(),
		Threshold:           0.15,
		SimilarityThreshold: 0.7,
		PopularityBonus:     0.05,
		PopularityCap:       100,
	}
}

// Signals holds each weighted term of a candidate's score.
type Signals struct {
	Keyword    float64 `json:"keyword"`
	Tag        float64 `json:"tag"`
	Semantic   float64 `json:"semantic"`
	Importance float64 `json:"importance"`
	Popularity float64 `json:"popularity"`
}

func (s Signals) Total() float64 {
	return s.Keyword + s.Tag + s.Semantic + s.Importance + s.Popularity
}

// Scorer computes relevance scores. It holds no mutable state.
type Scorer struct {
	cfg ScorerConfig
}

func NewScorer(cfg ScorerConfig) *Scorer {
	if cfg.PopularityCap <= 0 {
		cfg.PopularityCap = 100
	}
	return &Scorer{cfg: cfg}
}

// Include reports whether total clears the inclusion threshold.
func (s *Scorer) Include(total float64) bool {
	return total >= s.cfg.Threshold
}

// MaxScore is the upper bound of any score this scorer produces.
func (s *Scorer) MaxScore(includePopular bool) float64 {
	total := s.cfg.Weights.Sum()
	if includePopular {
		total += s.cfg.PopularityBonus
	}
	return total
}

// matcher is a query prepared once per search.
type matcher struct {
	text           string
	word           *regexp.Regexp
	tags           []string
	embedding      []float32
	includePopular bool
}

func newMatcher(text string, tags []string, embedding []float32, includePopular bool) *matcher {
	norm := normalizeText(text)
	lowered := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			lowered = append(lowered, t)
		}
	}
	return &matcher{
		text:           norm,
		word:           regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(norm) + `(?:$|[^\p{L}\p{N}_])`),
		tags:           lowered,
		embedding:      embedding,
		includePopular: includePopular,
	}
}

// Score computes every signal for c.
func (s *Scorer) Score(m *matcher, c *memos.Candidate) Signals {
	w := s.cfg.Weights
	sig := Signals{
		Keyword:    s.keyword(m, c) * w.Keyword,
		Tag:        s.tag(m, c) * w.Tag,
		Semantic:   s.semantic(m, c) * w.Semantic,
		Importance: clamp01(c.Importance) * w.Importance,
	}
	if m.includePopular {
		n := min(max(c.AccessCount, 0), s.cfg.PopularityCap)
		sig.Popularity = float64(n) / float64(s.cfg.PopularityCap) * s.cfg.PopularityBonus
	}
	return sig
}

// keyword returns 1 for a whole-word match, 0.5 for a substring match and 0
// otherwise. Whitespace runs in the memo compare equal to a single space, as
// they do in the query.
func (s *Scorer) keyword(m *matcher, c *memos.Candidate) float64 {
	content, summary := normalizeText(c.Content), normalizeText(c.Summary)
	if m.word.MatchString(content) || m.word.MatchString(summary) {
		return 1
	}
	if strings.Contains(content, m.text) || strings.Contains(summary, m.text) {
		return 0.5
	}
	return 0
}

func (s *Scorer) tag(m *matcher, c *memos.Candidate) float64 {
	if len(m.tags) == 0 || len(c.Tags) == 0 {
		return 0
	}
	joined := strings.ToLower(strings.Join(c.Tags, " "))
	for _, t := range m.tags {
		if strings.Contains(joined, t) {
			return 1
		}
	}
	return 0
}

// semantic returns the similarity when it exceeds the similarity threshold, else 0.
func (s *Scorer) semantic(m *matcher, c *memos.Candidate) float64 {
	if len(m.embedding) == 0 {
		return 0
	}

	var dist float64
	switch {
	case c.Distance != nil:
		dist = *c.Distance
	case len(c.Embedding) > 0:
		d, ok := CosineDistance(m.embedding, c.Embedding)
		if !ok {
			return 0
		}
		dist = d
	default:
		return 0
	}
	if math.IsNaN(dist) {
		return 0
	}

	sim := math.Min(1, 1-dist)
	if sim <= s.cfg.SimilarityThreshold {
		return 0
	}
	return math.Max(0, sim)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
