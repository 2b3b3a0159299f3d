package memos

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/memos-platform/memos/internal/api"
	"github.com/memos-platform/memos/internal/auth"
)

// Handler handles memo HTTP endpoints.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler creates a new memo handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: api.NewValidator(),
	}
}

// List returns paginated memos, optionally filtered by session, tag or author role.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := ListParams{
		SessionID:  q.Get("session_id"),
		Tag:        q.Get("tag"),
		AuthorRole: q.Get("author_role"),
		Page:       1,
		PageSize:   20,
	}
	if p := q.Get("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			params.Page = v
		}
	}
	if ps := q.Get("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			params.PageSize = v
		}
	}
	if params.AuthorRole != "" && !ValidRole(params.AuthorRole) {
		api.HandleError(w, api.NewValidationError("invalid author_role"))
		return
	}

	memos, total, err := h.svc.List(r.Context(), auth.OwnerID(r.Context()), params)
	if err != nil {
		slog.Error("listing memos", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSONPaginated(w, http.StatusOK, memos, total, params.Page, params.PageSize)
}

// Create creates a new memo.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateMemoRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.ValidationFailed(err))
		return
	}

	m, err := h.svc.Create(r.Context(), auth.OwnerID(r.Context()), &req)
	if err != nil {
		slog.Error("creating memo", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, m)
}

// Get returns a single memo and counts the access.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := memoID(w, r)
	if !ok {
		return
	}

	m, err := h.svc.Get(r.Context(), auth.OwnerID(r.Context()), id)
	if err != nil {
		handleMemoError(w, "getting memo", err)
		return
	}

	api.JSON(w, http.StatusOK, m)
}

// Update applies a partial update to a memo.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := memoID(w, r)
	if !ok {
		return
	}

	var req UpdateMemoRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.ValidationFailed(err))
		return
	}

	m, err := h.svc.Update(r.Context(), auth.OwnerID(r.Context()), id, &req)
	if err != nil {
		handleMemoError(w, "updating memo", err)
		return
	}

	api.JSON(w, http.StatusOK, m)
}

// Delete deletes a single memo.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := memoID(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), auth.OwnerID(r.Context()), id); err != nil {
		handleMemoError(w, "deleting memo", err)
		return
	}

	api.JSONMessage(w, http.StatusOK, "memo deleted successfully")
}

// Backfill embeds memos that were stored without an embedding.
func (h *Handler) Backfill(w http.ResponseWriter, r *http.Request) {
	batch := maxBackfillBatch
	if b := r.URL.Query().Get("batch_size"); b != "" {
		v, err := strconv.Atoi(b)
		if err != nil || v <= 0 || v > maxBackfillBatch {
			api.HandleError(w, api.NewValidationError("batch_size must be between 1 and 500"))
			return
		}
		batch = v
	}

	res, err := h.svc.BackfillEmbeddings(r.Context(), auth.OwnerID(r.Context()), batch)
	if err != nil {
		if errors.Is(err, ErrNoEmbedder) {
			api.HandleError(w, api.ErrUnavailable)
			return
		}
		slog.Error("backfilling embeddings", "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, res)
}

func memoID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "memoID"), 10, 64)
	if err != nil || id <= 0 {
		api.HandleError(w, api.NewBadRequestError("invalid memo ID"))
		return 0, false
	}
	return id, true
}

func handleMemoError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, ErrNotFound) {
		api.HandleError(w, api.NewNotFoundError("memo not found"))
		return
	}
	slog.Error(op, "error", err)
	api.HandleError(w, api.ErrInternalServer)
}
