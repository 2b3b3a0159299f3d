package memos

import (
	"errors"
	"sort"
	"strings"
	"time"
)

// Author roles accepted for a memo.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// DefaultImportance is applied when a memo is created without an explicit importance.
const DefaultImportance = 1.0

var (
	ErrNotFound         = errors.New("memo not found")
	ErrInvalidEmbedding = errors.New("invalid embedding dimension")
	ErrNoEmbedder       = errors.New("embedding provider not configured")
)

// Memo represents a row in the memos table.
type Memo struct {
	ID           int64     `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Content      string    `json:"content"`
	Summary      string    `json:"summary,omitempty"`
	Tags         []string  `json:"tags"`
	AuthorRole   string    `json:"author_role"`
	Importance   float64   `json:"importance"`
	AccessCount  int64     `json:"access_count"`
	SessionID    string    `json:"session_id,omitempty"`
	Embedding    []float32 `json:"-"`
	HasEmbedding bool      `json:"has_embedding"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// EmbeddingText returns the text an embedding is derived from.
func (m *Memo) EmbeddingText() string {
	return m.Summary + " " + m.Content
}

// Candidate is a memo fetched for scoring. Distance is the cosine distance
// between the stored embedding and the query embedding when the store
// computed it.
type Candidate struct {
	Memo
	Distance *float64
}

// CandidateQuery selects the memos a search scores. Limit <= 0 returns every
// match. With a positive Limit, rows whose content or summary contains Text
// and rows within MaxDistance of Embedding are kept ahead of the rest.
type CandidateQuery struct {
	Predicates  []Predicate
	Embedding   []float32
	Text        string
	MaxDistance float64
	Limit       int
}

// CandidateSet holds candidates in created_at DESC, id DESC order. Matched
// counts every row the predicates selected, which exceeds len(Candidates)
// when Limit dropped some.
type CandidateSet struct {
	Candidates []Candidate
	Matched    int
}

// Truncated reports whether the limit dropped matching rows.
func (s CandidateSet) Truncated() bool {
	return s.Matched > len(s.Candidates)
}

// CreateMemoRequest is used by the API to create a new memo.
type CreateMemoRequest struct {
	Content    string   `json:"content" validate:"required,min=1,max=20000"`
	Summary    string   `json:"summary,omitempty" validate:"max=2000"`
	Tags       []string `json:"tags,omitempty" validate:"max=50,dive,min=1,max=64"`
	AuthorRole string   `json:"author_role,omitempty" validate:"omitempty,oneof=user agent system"`
	Importance *float64 `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	SessionID  string   `json:"session_id,omitempty" validate:"max=255"`
}

// UpdateMemoRequest carries a partial update; nil fields are left unchanged.
type UpdateMemoRequest struct {
	Content    *string   `json:"content,omitempty" validate:"omitempty,min=1,max=20000"`
	Summary    *string   `json:"summary,omitempty" validate:"omitempty,max=2000"`
	Tags       *[]string `json:"tags,omitempty" validate:"omitempty,max=50,dive,min=1,max=64"`
	AuthorRole *string   `json:"author_role,omitempty" validate:"omitempty,oneof=user agent system"`
	Importance *float64  `json:"importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	SessionID  *string   `json:"session_id,omitempty" validate:"omitempty,max=255"`
}

// ListParams narrows a paginated listing.
type ListParams struct {
	SessionID  string
	Tag        string
	AuthorRole string
	Page       int
	PageSize   int
}

// BackfillResult reports the outcome of an embedding backfill run.
type BackfillResult struct {
	Processed int `json:"processed"`
	Embedded  int `json:"embedded"`
	Failed    int `json:"failed"`
}

// ValidRole reports whether role is a known author role.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAgent, RoleSystem:
		return true
	}
	return false
}

// NormalizeTags lowercases, trims and de-duplicates tags. The result is sorted.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
