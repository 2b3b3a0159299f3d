package memos

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/memos-platform/memos/internal/metrics"
)

// Event actions published after a memo mutation.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

const maxBackfillBatch = 500

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Invalidator drops cached search results for an owner.
type Invalidator interface {
	InvalidateOwner(ownerID string) int
}

// EventPublisher announces memo mutations to other replicas.
type EventPublisher interface {
	PublishMemoChanged(ctx context.Context, action, ownerID string, memoID int64) error
}

// Service orchestrates memo persistence, embedding generation and search cache invalidation.
type Service struct {
	repo        Repository
	embedder    Embedder
	invalidator Invalidator
	publisher   EventPublisher
}

// NewService creates a new memo service. embedder, invalidator and publisher may be nil.
func NewService(repo Repository, embedder Embedder, invalidator Invalidator, publisher EventPublisher) *Service {
	return &Service{
		repo:        repo,
		embedder:    embedder,
		invalidator: invalidator,
		publisher:   publisher,
	}
}

// Create stores a new memo, embedding summary and content when a provider is configured.
func (s *Service) Create(ctx context.Context, ownerID string, req *CreateMemoRequest) (*Memo, error) {
	m := &Memo{
		OwnerID:    ownerID,
		Content:    req.Content,
		Summary:    req.Summary,
		Tags:       NormalizeTags(req.Tags),
		AuthorRole: req.AuthorRole,
		Importance: DefaultImportance,
		SessionID:  req.SessionID,
	}
	if m.AuthorRole == "" {
		m.AuthorRole = RoleUser
	}
	if req.Importance != nil {
		m.Importance = *req.Importance
	}
	m.Embedding = s.embed(ctx, m)

	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}

	s.changed(ctx, ActionCreated, m)
	return m, nil
}

// Get returns a memo and counts the read.
func (s *Service) Get(ctx context.Context, ownerID string, id int64) (*Memo, error) {
	return s.repo.Get(ctx, ownerID, id)
}

// List returns a page of memos and the total matching count.
func (s *Service) List(ctx context.Context, ownerID string, params ListParams) ([]Memo, int64, error) {
	f := Filter{
		OwnerID:    ownerID,
		SessionID:  params.SessionID,
		AuthorRole: params.AuthorRole,
	}
	if params.Tag != "" {
		f.Tags = []string{params.Tag}
	}
	return s.repo.List(ctx, f.Predicates(), params.Page, params.PageSize)
}

// Update applies a partial update. The embedding is regenerated when content
// or summary change; if that fails the stored embedding is cleared rather
// than left describing stale text.
func (s *Service) Update(ctx context.Context, ownerID string, id int64, req *UpdateMemoRequest) (*Memo, error) {
	m, err := s.repo.Find(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	textChanged := false
	if req.Content != nil && *req.Content != m.Content {
		m.Content = *req.Content
		textChanged = true
	}
	if req.Summary != nil && *req.Summary != m.Summary {
		m.Summary = *req.Summary
		textChanged = true
	}
	if req.Tags != nil {
		m.Tags = NormalizeTags(*req.Tags)
	}
	if req.AuthorRole != nil {
		m.AuthorRole = *req.AuthorRole
	}
	if req.Importance != nil {
		m.Importance = *req.Importance
	}
	if req.SessionID != nil {
		m.SessionID = *req.SessionID
	}

	if textChanged {
		m.Embedding = s.embed(ctx, m)
	}
	if err := s.repo.Update(ctx, m, textChanged); err != nil {
		return nil, err
	}

	s.changed(ctx, ActionUpdated, m)
	return m, nil
}

// Delete removes a memo.
func (s *Service) Delete(ctx context.Context, ownerID string, id int64) error {
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.changed(ctx, ActionDeleted, &Memo{ID: id, OwnerID: ownerID})
	return nil
}

// BackfillEmbeddings embeds up to batchSize memos that have no embedding yet.
// The owner's search cache is invalidated whenever at least one embedding
// was stored, including when the batch stops early with an error.
func (s *Service) BackfillEmbeddings(ctx context.Context, ownerID string, batchSize int) (res *BackfillResult, err error) {
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	if batchSize <= 0 || batchSize > maxBackfillBatch {
		batchSize = maxBackfillBatch
	}

	pending, err := s.repo.ListMissingEmbeddings(ctx, ownerID, batchSize)
	if err != nil {
		return nil, err
	}

	res = &BackfillResult{}
	defer func() {
		if res.Embedded > 0 && s.invalidator != nil {
			s.invalidator.InvalidateOwner(ownerID)
		}
	}()

	for i := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		m := &pending[i]
		vec, err := s.embedder.Embed(ctx, m.EmbeddingText())
		if err != nil {
			slog.Warn("memos: backfill embedding failed", "error", err, "memo_id", m.ID)
			metrics.EmbeddingFailuresTotal.WithLabelValues("backfill").Inc()
			res.Failed++
			continue
		}
		if err := s.repo.SetEmbedding(ctx, ownerID, m.ID, vec); err != nil {
			return res, fmt.Errorf("storing backfilled embedding: %w", err)
		}
		res.Embedded++
	}
	return res, nil
}

func (s *Service) embed(ctx context.Context, m *Memo) []float32 {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, m.EmbeddingText())
	if err != nil {
		slog.Warn("memos: failed to generate embedding", "error", err, "owner_id", m.OwnerID)
		metrics.EmbeddingFailuresTotal.WithLabelValues("memo").Inc()
		return nil
	}
	if len(vec) != EmbeddingDimension {
		slog.Warn("memos: discarding embedding with wrong dimension", "got", len(vec), "owner_id", m.OwnerID)
		metrics.EmbeddingFailuresTotal.WithLabelValues("memo").Inc()
		return nil
	}
	return vec
}

func (s *Service) changed(ctx context.Context, action string, m *Memo) {
	if s.invalidator != nil {
		s.invalidator.InvalidateOwner(m.OwnerID)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishMemoChanged(ctx, action, m.OwnerID, m.ID); err != nil {
			slog.Warn("memos: failed to publish memo event", "error", err, "action", action, "memo_id", m.ID)
		}
	}
}
