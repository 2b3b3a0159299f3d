package memos

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// EmbeddingDimension is the only accepted length for a stored embedding.
const EmbeddingDimension = 1536

// Repository defines memo persistence operations.
type Repository interface {
	Create(ctx context.Context, m *Memo) error
	Find(ctx context.Context, ownerID string, id int64) (*Memo, error)
	Get(ctx context.Context, ownerID string, id int64) (*Memo, error)
	Update(ctx context.Context, m *Memo, replaceEmbedding bool) error
	Delete(ctx context.Context, ownerID string, id int64) error
	List(ctx context.Context, preds []Predicate, page, pageSize int) ([]Memo, int64, error)
	ListMissingEmbeddings(ctx context.Context, ownerID string, limit int) ([]Memo, error)
	SetEmbedding(ctx context.Context, ownerID string, id int64, embedding []float32) error
	QueryCandidates(ctx context.Context, q CandidateQuery) (CandidateSet, error)
}

// PostgresRepository implements Repository using pgx + pgvector.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new memo repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const memoColumns = `id, owner_id, content, COALESCE(summary, ''), tags, author_role, importance,
	access_count, COALESCE(session_id, ''), embedding IS NOT NULL, created_at, updated_at`

func scanMemo(row pgx.Row, m *Memo) error {
	return row.Scan(&m.ID, &m.OwnerID, &m.Content, &m.Summary, &m.Tags, &m.AuthorRole, &m.Importance,
		&m.AccessCount, &m.SessionID, &m.HasEmbedding, &m.CreatedAt, &m.UpdatedAt)
}

func vectorArg(embedding []float32) (any, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if len(embedding) != EmbeddingDimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidEmbedding, len(embedding), EmbeddingDimension)
	}
	return pgvector.NewVector(embedding), nil
}

func (r *PostgresRepository) Create(ctx context.Context, m *Memo) error {
	vec, err := vectorArg(m.Embedding)
	if err != nil {
		return err
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}

	err = r.pool.QueryRow(ctx,
		`INSERT INTO memos (owner_id, content, summary, tags, author_role, importance, session_id, embedding)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8)
		 RETURNING id, access_count, created_at, updated_at`,
		m.OwnerID, m.Content, m.Summary, m.Tags, m.AuthorRole, m.Importance, m.SessionID, vec,
	).Scan(&m.ID, &m.AccessCount, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting memo: %w", err)
	}
	m.HasEmbedding = vec != nil
	return nil
}

// Find loads a memo without touching its access count.
func (r *PostgresRepository) Find(ctx context.Context, ownerID string, id int64) (*Memo, error) {
	var m Memo
	err := scanMemo(r.pool.QueryRow(ctx,
		`SELECT `+memoColumns+` FROM memos WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	), &m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finding memo: %w", err)
	}
	return &m, nil
}

// Get loads a memo and increments its access count.
func (r *PostgresRepository) Get(ctx context.Context, ownerID string, id int64) (*Memo, error) {
	var m Memo
	err := scanMemo(r.pool.QueryRow(ctx,
		`UPDATE memos SET access_count = access_count + 1
		 WHERE id = $1 AND owner_id = $2
		 RETURNING `+memoColumns,
		id, ownerID,
	), &m)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting memo: %w", err)
	}
	return &m, nil
}

// Update writes every mutable field. When replaceEmbedding is set the stored
// embedding is overwritten with m.Embedding, and a nil embedding clears it.
func (r *PostgresRepository) Update(ctx context.Context, m *Memo, replaceEmbedding bool) error {
	if m.Tags == nil {
		m.Tags = []string{}
	}
	args := []any{m.Content, m.Summary, m.Tags, m.AuthorRole, m.Importance, m.SessionID, m.ID, m.OwnerID}

	embeddingSet := ""
	if replaceEmbedding {
		vec, err := vectorArg(m.Embedding)
		if err != nil {
			return err
		}
		embeddingSet = ", embedding = $9"
		args = append(args, vec)
	}

	err := r.pool.QueryRow(ctx,
		`UPDATE memos
		 SET content = $1, summary = NULLIF($2, ''), tags = $3, author_role = $4, importance = $5,
		     session_id = NULLIF($6, ''), updated_at = NOW()`+embeddingSet+`
		 WHERE id = $7 AND owner_id = $8
		 RETURNING access_count, embedding IS NOT NULL, created_at, updated_at`,
		args...,
	).Scan(&m.AccessCount, &m.HasEmbedding, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("updating memo: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, ownerID string, id int64) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM memos WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting memo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, preds []Predicate, page, pageSize int) ([]Memo, int64, error) {
	where, args, argIdx, err := buildWhere(preds, 1)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memos WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting memos: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(
		`SELECT %s FROM memos WHERE %s
		 ORDER BY created_at DESC, id DESC
		 LIMIT $%d OFFSET $%d`, memoColumns, where, argIdx, argIdx+1)
	args = append(args, pageSize, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing memos: %w", err)
	}
	defer rows.Close()

	memos := []Memo{}
	for rows.Next() {
		var m Memo
		if err := scanMemo(rows, &m); err != nil {
			return nil, 0, fmt.Errorf("scanning memo: %w", err)
		}
		memos = append(memos, m)
	}
	return memos, total, rows.Err()
}

func (r *PostgresRepository) ListMissingEmbeddings(ctx context.Context, ownerID string, limit int) ([]Memo, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+memoColumns+` FROM memos
		 WHERE owner_id = $1 AND embedding IS NULL
		 ORDER BY id
		 LIMIT $2`,
		ownerID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing memos without embedding: %w", err)
	}
	defer rows.Close()

	var memos []Memo
	for rows.Next() {
		var m Memo
		if err := scanMemo(rows, &m); err != nil {
			return nil, fmt.Errorf("scanning memo: %w", err)
		}
		memos = append(memos, m)
	}
	return memos, rows.Err()
}

// SetEmbedding stores an embedding without refreshing updated_at.
func (r *PostgresRepository) SetEmbedding(ctx context.Context, ownerID string, id int64, embedding []float32) error {
	vec, err := vectorArg(embedding)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE memos SET embedding = $1 WHERE id = $2 AND owner_id = $3`,
		vec, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("setting memo embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryCandidates returns memos matching q.Predicates in created_at DESC,
// id DESC order. When q.Embedding is set, the cosine distance to each stored
// embedding is computed by pgvector. A positive q.Limit keeps keyword and
// near-vector hits first, then fills the rest by recency.
func (r *PostgresRepository) QueryCandidates(ctx context.Context, q CandidateQuery) (CandidateSet, error) {
	var (
		distanceExpr = "NULL::float8"
		args         []any
		argIdx       = 1
	)
	if len(q.Embedding) > 0 {
		distanceExpr = "embedding <=> $1"
		args = append(args, pgvector.NewVector(q.Embedding))
		argIdx++
	}

	where, whereArgs, argIdx, err := buildWhere(q.Predicates, argIdx)
	if err != nil {
		return CandidateSet{}, err
	}
	args = append(args, whereArgs...)

	var query string
	if q.Limit <= 0 {
		query = fmt.Sprintf(
			`SELECT %s, %s AS distance, 0::bigint
			 FROM memos WHERE %s
			 ORDER BY created_at DESC, id DESC`, memoColumns, distanceExpr, where)
	} else {
		order := []string{}
		if text := strings.Join(strings.Fields(q.Text), " "); text != "" {
			order = append(order, fmt.Sprintf(
				`(regexp_replace(content, '\s+', ' ', 'g') ILIKE $%[1]d OR regexp_replace(COALESCE(summary, ''), '\s+', ' ', 'g') ILIKE $%[1]d) DESC`,
				argIdx))
			args = append(args, "%"+escapeLike(text)+"%")
			argIdx++
		}
		if len(q.Embedding) > 0 {
			order = append(order, fmt.Sprintf(`COALESCE((embedding <=> $1) < $%d, false) DESC`, argIdx))
			args = append(args, q.MaxDistance)
			argIdx++
		}
		order = append(order, "created_at DESC", "id DESC")
		query = fmt.Sprintf(
			`SELECT %s, %s AS distance, COUNT(*) OVER ()
			 FROM memos WHERE %s
			 ORDER BY %s
			 LIMIT $%d`, memoColumns, distanceExpr, where, strings.Join(order, ", "), argIdx)
		args = append(args, q.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return CandidateSet{}, fmt.Errorf("querying candidates: %w", err)
	}
	defer rows.Close()

	var set CandidateSet
	for rows.Next() {
		var (
			c       Candidate
			matched int64
		)
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.Content, &c.Summary, &c.Tags, &c.AuthorRole, &c.Importance,
			&c.AccessCount, &c.SessionID, &c.HasEmbedding, &c.CreatedAt, &c.UpdatedAt, &c.Distance, &matched); err != nil {
			return CandidateSet{}, fmt.Errorf("scanning candidate: %w", err)
		}
		set.Candidates = append(set.Candidates, c)
		set.Matched = int(matched)
	}
	if err := rows.Err(); err != nil {
		return CandidateSet{}, fmt.Errorf("reading candidates: %w", err)
	}

	if q.Limit <= 0 {
		set.Matched = len(set.Candidates)
		return set, nil
	}
	sort.Slice(set.Candidates, func(i, j int) bool {
		a, b := set.Candidates[i], set.Candidates[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return set, nil
}

// escapeLike escapes the LIKE wildcards in s.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
