package search

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/memos-platform/memos/internal/api"
	"github.com/memos-platform/memos/internal/auth"
)

// SearchRequest is the body of POST /api/v1/memos/search.
type SearchRequest struct {
	Query          string     `json:"query" validate:"required"`
	SessionID      string     `json:"session_id,omitempty" validate:"max=255"`
	Tags           []string   `json:"tags,omitempty" validate:"max=50,dive,min=1,max=64"`
	AuthorRole     string     `json:"author_role,omitempty" validate:"omitempty,oneof=user agent system"`
	MinImportance  *float64   `json:"min_importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxImportance  *float64   `json:"max_importance,omitempty" validate:"omitempty,gte=0,lte=1"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	IncludePopular bool       `json:"include_popular,omitempty"`
	SortBy         string     `json:"sort_by,omitempty" validate:"omitempty,oneof=relevance importance recency popularity"`
	Limit          int        `json:"limit,omitempty" validate:"omitempty,min=1,max=100"`
	Debug          bool       `json:"debug,omitempty"`
}

// ToQuery converts the request into a search query for ownerID.
func (r *SearchRequest) ToQuery(ownerID string) Query {
	q := Query{
		OwnerID: ownerID,
		Text:    r.Query,
		SortBy:  SortBy(r.SortBy),
		Limit:   r.Limit,
		Debug:   r.Debug,
		Filters: Filters{
			SessionID:      r.SessionID,
			Tags:           r.Tags,
			AuthorRole:     r.AuthorRole,
			MinImportance:  r.MinImportance,
			MaxImportance:  r.MaxImportance,
			IncludePopular: r.IncludePopular,
		},
	}
	if r.StartDate != nil || r.EndDate != nil {
		q.Filters.DateRange = &DateRange{Start: r.StartDate, End: r.EndDate}
	}
	return q
}

// Handler handles the search endpoint.
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

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.HandleError(w, err)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.ValidationFailed(err))
		return
	}

	results, err := h.svc.Search(r.Context(), req.ToQuery(auth.OwnerID(r.Context())))
	if err != nil {
		api.HandleError(w, ToAppError(err))
		return
	}

	api.JSON(w, http.StatusOK, results)
}

// ToAppError maps a search error onto an API error, logging server-side failures.
func ToAppError(err error) error {
	var depErr *DependencyError
	switch {
	case errors.Is(err, ErrValidation):
		return api.NewValidationError(err.Error())
	case errors.As(err, &depErr):
		slog.Error("searching memos", "error", err, "dependency", depErr.Dependency)
		return api.ErrInternalServer
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Warn("search abandoned", "error", err)
		return api.ErrUnavailable
	default:
		slog.Error("searching memos", "error", err)
		return api.ErrInternalServer
	}
}
