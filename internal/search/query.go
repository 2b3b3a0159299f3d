package search

import (
	"math"
	"strings"
	"time"

	"github.com/memos-platform/memos/internal/memos"
)

// SortBy selects the ordering of search results.
type SortBy string

const (
	SortRelevance  SortBy = "relevance"
	SortImportance SortBy = "importance"
	SortRecency    SortBy = "recency"
	SortPopularity SortBy = "popularity"
)

// Query text bounds, counted in characters after trimming.
const (
	MinQueryLength = 2
	MaxQueryLength = 500
)

func (s SortBy) valid() bool {
	switch s {
	case SortRelevance, SortImportance, SortRecency, SortPopularity:
		return true
	}
	return false
}

// DateRange bounds created_at inclusively. Either end may be nil.
type DateRange struct {
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`
}

// Filters are exact constraints applied before scoring, plus IncludePopular
// which enables the popularity bonus.
type Filters struct {
	SessionID      string     `json:"session_id,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	AuthorRole     string     `json:"author_role,omitempty"`
	MinImportance  *float64   `json:"min_importance,omitempty"`
	MaxImportance  *float64   `json:"max_importance,omitempty"`
	DateRange      *DateRange `json:"date_range,omitempty"`
	IncludePopular bool       `json:"include_popular,omitempty"`
}

// Query is a single search request scoped to one owner.
type Query struct {
	OwnerID string
	Text    string
	Filters Filters
	SortBy  SortBy
	Limit   int
	Debug   bool
}

// Result is a ranked memo. Score is only populated for debug queries.
type Result struct {
	memos.Memo
	Score *float64 `json:"score,omitempty"`
}

// normalizeText lowercases text and collapses runs of whitespace.
func normalizeText(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// validate checks q and fills defaults. It never calls a dependency.
func (q *Query) validate(defaultLimit, maxLimit int) error {
	if q.OwnerID == "" {
		return invalid("owner", "is required")
	}

	n := len([]rune(strings.TrimSpace(q.Text)))
	if n < MinQueryLength || n > MaxQueryLength {
		return invalid("query", "must be between %d and %d characters", MinQueryLength, MaxQueryLength)
	}

	if q.Limit == 0 {
		q.Limit = defaultLimit
	}
	if q.Limit < 1 || q.Limit > maxLimit {
		return invalid("limit", "must be between 1 and %d", maxLimit)
	}

	if q.SortBy == "" {
		q.SortBy = SortRelevance
	}
	if !q.SortBy.valid() {
		return invalid("sort_by", "unknown sort %q", q.SortBy)
	}

	f := &q.Filters
	if f.AuthorRole != "" && !memos.ValidRole(f.AuthorRole) {
		return invalid("author_role", "unknown role %q", f.AuthorRole)
	}
	if err := checkImportance("min_importance", f.MinImportance); err != nil {
		return err
	}
	if err := checkImportance("max_importance", f.MaxImportance); err != nil {
		return err
	}
	if f.MinImportance != nil && f.MaxImportance != nil && *f.MinImportance > *f.MaxImportance {
		return invalid("importance", "min_importance exceeds max_importance")
	}
	if dr := f.DateRange; dr != nil && dr.Start != nil && dr.End != nil && dr.Start.After(*dr.End) {
		return invalid("date_range", "start is after end")
	}
	return nil
}

func checkImportance(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || *v < 0 || *v > 1 {
		return invalid(field, "must be within [0, 1]")
	}
	return nil
}

// storeFilter renders the pushed-down part of q for the record store.
func (q *Query) storeFilter() memos.Filter {
	f := memos.Filter{
		OwnerID:       q.OwnerID,
		SessionID:     q.Filters.SessionID,
		AuthorRole:    q.Filters.AuthorRole,
		Tags:          q.Filters.Tags,
		MinImportance: q.Filters.MinImportance,
		MaxImportance: q.Filters.MaxImportance,
	}
	if dr := q.Filters.DateRange; dr != nil {
		f.CreatedAfter = dr.Start
		f.CreatedBefore = dr.End
	}
	return f
}
