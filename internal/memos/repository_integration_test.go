//go:build integration

package memos

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memos-platform/memos/internal/testutil"
)

func vector(hot int) []float32 {
	v := make([]float32, EmbeddingDimension)
	v[hot] = 1
	return v
}

func TestPostgresRepository(t *testing.T) {
	pool := testutil.StartPostgres(t)
	repo := NewPostgresRepository(pool)
	ctx := context.Background()

	withEmbedding := &Memo{
		OwnerID: "owner-1", Content: "invoice overdue", Tags: []string{"finance"},
		AuthorRole: RoleUser, Importance: 0.9, SessionID: "s1", Embedding: vector(0),
	}
	require.NoError(t, repo.Create(ctx, withEmbedding))
	assert.True(t, withEmbedding.HasEmbedding)

	plain := &Memo{OwnerID: "owner-1", Content: "lunch plans", AuthorRole: RoleAgent, Importance: 0.2}
	require.NoError(t, repo.Create(ctx, plain))
	assert.False(t, plain.HasEmbedding)

	foreign := &Memo{OwnerID: "owner-2", Content: "invoice", AuthorRole: RoleUser, Importance: 1}
	require.NoError(t, repo.Create(ctx, foreign))

	t.Run("rejects wrong dimension", func(t *testing.T) {
		err := repo.Create(ctx, &Memo{OwnerID: "owner-1", Content: "x", AuthorRole: RoleUser, Embedding: []float32{1, 2}})
		assert.ErrorIs(t, err, ErrInvalidEmbedding)
	})

	t.Run("get counts access, find does not", func(t *testing.T) {
		m, err := repo.Get(ctx, "owner-1", withEmbedding.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), m.AccessCount)

		m, err = repo.Find(ctx, "owner-1", withEmbedding.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), m.AccessCount)
		assert.Equal(t, []string{"finance"}, m.Tags)
		assert.Equal(t, "s1", m.SessionID)

		_, err = repo.Get(ctx, "owner-2", withEmbedding.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("query candidates computes distance", func(t *testing.T) {
		f := Filter{OwnerID: "owner-1"}
		set, err := repo.QueryCandidates(ctx, CandidateQuery{Predicates: f.Predicates(), Embedding: vector(0)})
		require.NoError(t, err)
		require.Len(t, set.Candidates, 2)
		assert.False(t, set.Truncated())
		cands := set.Candidates

		assert.Equal(t, plain.ID, cands[0].ID)
		assert.Nil(t, cands[0].Distance)
		require.NotNil(t, cands[1].Distance)
		assert.InDelta(t, 0, *cands[1].Distance, 1e-6)
	})

	t.Run("query candidates pushes filters down", func(t *testing.T) {
		floor := 0.5
		f := Filter{OwnerID: "owner-1", Tags: []string{"Finance"}, MinImportance: &floor}
		set, err := repo.QueryCandidates(ctx, CandidateQuery{Predicates: f.Predicates()})
		require.NoError(t, err)
		require.Len(t, set.Candidates, 1)
		assert.Equal(t, withEmbedding.ID, set.Candidates[0].ID)
		assert.Nil(t, set.Candidates[0].Distance)

		after := time.Now().Add(time.Hour)
		f = Filter{OwnerID: "owner-1", CreatedAfter: &after}
		set, err = repo.QueryCandidates(ctx, CandidateQuery{Predicates: f.Predicates()})
		require.NoError(t, err)
		assert.Empty(t, set.Candidates)
	})

	t.Run("query candidates keeps older hits under a limit", func(t *testing.T) {
		owner := "owner-cap"
		old := &Memo{OwnerID: owner, Content: "the  Overdue invoice", AuthorRole: RoleUser, Importance: 0.5}
		require.NoError(t, repo.Create(ctx, old))
		near := &Memo{OwnerID: owner, Content: "billing run", AuthorRole: RoleUser, Importance: 0.5, Embedding: vector(2)}
		require.NoError(t, repo.Create(ctx, near))
		var fresh []int64
		for i := 0; i < 3; i++ {
			m := &Memo{OwnerID: owner, Content: "lunch plans", AuthorRole: RoleUser, Importance: 0.5}
			require.NoError(t, repo.Create(ctx, m))
			fresh = append(fresh, m.ID)
		}

		set, err := repo.QueryCandidates(ctx, CandidateQuery{
			Predicates:  Filter{OwnerID: owner}.Predicates(),
			Embedding:   vector(2),
			Text:        "overdue   invoice",
			MaxDistance: 0.3,
			Limit:       3,
		})
		require.NoError(t, err)
		assert.True(t, set.Truncated())
		assert.Equal(t, 5, set.Matched)
		require.Len(t, set.Candidates, 3)
		assert.Equal(t, []int64{fresh[2], near.ID}, []int64{set.Candidates[0].ID, set.Candidates[1].ID})
		assert.Equal(t, old.ID, set.Candidates[2].ID, "near-vector hit and recency fill keep created_at order")

		set, err = repo.QueryCandidates(ctx, CandidateQuery{
			Predicates: Filter{OwnerID: owner}.Predicates(),
			Text:       "overdue  invoice",
			Limit:      1,
		})
		require.NoError(t, err)
		require.Len(t, set.Candidates, 1)
		assert.Equal(t, old.ID, set.Candidates[0].ID)

		set, err = repo.QueryCandidates(ctx, CandidateQuery{Predicates: Filter{OwnerID: owner}.Predicates()})
		require.NoError(t, err)
		assert.Len(t, set.Candidates, 5)
		assert.False(t, set.Truncated())
	})

	t.Run("update keeps or replaces embedding", func(t *testing.T) {
		m, err := repo.Find(ctx, "owner-1", withEmbedding.ID)
		require.NoError(t, err)
		m.Importance = 0.4
		require.NoError(t, repo.Update(ctx, m, false))
		assert.True(t, m.HasEmbedding)

		m.Content = "invoice paid"
		m.Embedding = nil
		require.NoError(t, repo.Update(ctx, m, true))
		assert.False(t, m.HasEmbedding)
		assert.True(t, m.UpdatedAt.After(m.CreatedAt))
	})

	t.Run("backfill", func(t *testing.T) {
		missing, err := repo.ListMissingEmbeddings(ctx, "owner-1", 10)
		require.NoError(t, err)
		require.Len(t, missing, 2)

		require.NoError(t, repo.SetEmbedding(ctx, "owner-1", missing[0].ID, vector(1)))
		missing, err = repo.ListMissingEmbeddings(ctx, "owner-1", 10)
		require.NoError(t, err)
		assert.Len(t, missing, 1)

		assert.ErrorIs(t, repo.SetEmbedding(ctx, "owner-2", plain.ID, vector(1)), ErrNotFound)
	})

	t.Run("list and delete", func(t *testing.T) {
		page, total, err := repo.List(ctx, Filter{OwnerID: "owner-1", AuthorRole: RoleAgent}.Predicates(), 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, page, 1)
		assert.Equal(t, plain.ID, page[0].ID)

		assert.ErrorIs(t, repo.Delete(ctx, "owner-2", plain.ID), ErrNotFound)
		require.NoError(t, repo.Delete(ctx, "owner-1", plain.ID))
		_, err = repo.Find(ctx, "owner-1", plain.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
