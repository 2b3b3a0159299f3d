package memos

import (
	"fmt"
	"strings"
	"time"
)

// Op is a comparison operator understood by the repository.
type Op string

const (
	OpEq      Op = "="
	OpGTE     Op = ">="
	OpLTE     Op = "<="
	OpOverlap Op = "&&"
)

// Column names a filterable memos column.
type Column string

const (
	ColOwnerID    Column = "owner_id"
	ColSessionID  Column = "session_id"
	ColAuthorRole Column = "author_role"
	ColImportance Column = "importance"
	ColCreatedAt  Column = "created_at"
	ColTags       Column = "tags"
)

var filterable = map[Column]map[Op]bool{
	ColOwnerID:    {OpEq: true},
	ColSessionID:  {OpEq: true},
	ColAuthorRole: {OpEq: true},
	ColImportance: {OpGTE: true, OpLTE: true},
	ColCreatedAt:  {OpGTE: true, OpLTE: true},
	ColTags:       {OpOverlap: true},
}

// Predicate is a single (column, operator, value) condition.
type Predicate struct {
	Column Column
	Op     Op
	Value  any
}

// Filter collects the exact filters pushed down to the store. Zero values
// mean "no constraint".
type Filter struct {
	OwnerID       string
	SessionID     string
	AuthorRole    string
	Tags          []string
	MinImportance *float64
	MaxImportance *float64
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// Predicates renders the filter as predicates. The owner predicate is always first.
func (f Filter) Predicates() []Predicate {
	preds := []Predicate{{Column: ColOwnerID, Op: OpEq, Value: f.OwnerID}}

	if f.SessionID != "" {
		preds = append(preds, Predicate{Column: ColSessionID, Op: OpEq, Value: f.SessionID})
	}
	if f.AuthorRole != "" {
		preds = append(preds, Predicate{Column: ColAuthorRole, Op: OpEq, Value: f.AuthorRole})
	}
	if f.MinImportance != nil {
		preds = append(preds, Predicate{Column: ColImportance, Op: OpGTE, Value: *f.MinImportance})
	}
	if f.MaxImportance != nil {
		preds = append(preds, Predicate{Column: ColImportance, Op: OpLTE, Value: *f.MaxImportance})
	}
	if f.CreatedAfter != nil {
		preds = append(preds, Predicate{Column: ColCreatedAt, Op: OpGTE, Value: *f.CreatedAfter})
	}
	if f.CreatedBefore != nil {
		preds = append(preds, Predicate{Column: ColCreatedAt, Op: OpLTE, Value: *f.CreatedBefore})
	}
	if tags := NormalizeTags(f.Tags); len(tags) > 0 {
		preds = append(preds, Predicate{Column: ColTags, Op: OpOverlap, Value: tags})
	}
	return preds
}

// buildWhere renders predicates into a WHERE body with $n placeholders
// starting at argIdx. It returns the clause, the arguments and the next free index.
func buildWhere(preds []Predicate, argIdx int) (string, []any, int, error) {
	if len(preds) == 0 || preds[0].Column != ColOwnerID {
		return "", nil, argIdx, fmt.Errorf("owner predicate is required")
	}

	conditions := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))
	for _, p := range preds {
		ops, ok := filterable[p.Column]
		if !ok || !ops[p.Op] {
			return "", nil, argIdx, fmt.Errorf("unsupported predicate %s %s", p.Column, p.Op)
		}
		conditions = append(conditions, fmt.Sprintf("%s %s $%d", p.Column, p.Op, argIdx))
		args = append(args, p.Value)
		argIdx++
	}
	return strings.Join(conditions, " AND "), args, argIdx, nil
}
