package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/memos-platform/memos/internal/api"
)

// Handler serves /api/v1/api-keys. Every operation is scoped to the
// authenticated owner; another owner's key id is reported as not found.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: api.NewValidator(),
	}
}

func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req CreateAPIKeyRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.ValidationFailed(err))
		return
	}

	owner := OwnerID(r.Context())
	key, err := h.svc.CreateAPIKey(r.Context(), owner, &req)
	if err != nil {
		slog.Error("creating api key", "owner_id", owner, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	slog.Info("api key created", "owner_id", owner, "prefix", key.Prefix)
	api.JSON(w, http.StatusCreated, key)
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	owner := OwnerID(r.Context())
	keys, err := h.svc.ListAPIKeys(r.Context(), owner)
	if err != nil {
		slog.Error("listing api keys", "owner_id", owner, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	if keys == nil {
		keys = []APIKey{}
	}

	api.JSON(w, http.StatusOK, keys)
}

func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "keyID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid api key ID"))
		return
	}

	owner := OwnerID(r.Context())
	if err := h.svc.RevokeAPIKey(r.Context(), owner, id); err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			api.HandleError(w, api.NewNotFoundError("api key not found"))
			return
		}
		slog.Error("revoking api key", "owner_id", owner, "key_id", id, "error", err)
		api.HandleError(w, api.ErrInternalServer)
		return
	}

	slog.Info("api key revoked", "owner_id", owner, "key_id", id)
	api.JSONMessage(w, http.StatusOK, "api key revoked")
}
