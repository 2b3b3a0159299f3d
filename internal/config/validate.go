package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// Supabase JWT secret
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "AUTH_JWT_SECRET must be at least 32 characters")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Sprintf("AUTH_BCRYPT_COST must be %d–%d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost))
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Embedding provider
	switch c.Embedding.Provider {
	case "openai":
		if c.Embedding.APIKey == "" {
			errs = append(errs, "EMBEDDING_API_KEY is required when EMBEDDING_PROVIDER is openai")
		}
	case "none":
		slog.Warn("EMBEDDING_PROVIDER is none, semantic scoring disabled")
	default:
		errs = append(errs, fmt.Sprintf("EMBEDDING_PROVIDER must be openai or none, got %q", c.Embedding.Provider))
	}

	// Search tuning
	s := c.Search
	bounded := []struct {
		name string
		v    float64
	}{
		{"SEARCH_WEIGHT_KEYWORD", s.KeywordWeight},
		{"SEARCH_WEIGHT_TAG", s.TagWeight},
		{"SEARCH_WEIGHT_SEMANTIC", s.SemanticWeight},
		{"SEARCH_WEIGHT_IMPORTANCE", s.ImportanceWeight},
		{"SEARCH_THRESHOLD", s.Threshold},
		{"SEARCH_SIMILARITY_THRESHOLD", s.SimilarityThreshold},
		{"SEARCH_POPULARITY_BONUS", s.PopularityBonus},
	}
	for _, b := range bounded {
		if math.IsNaN(b.v) || b.v < 0 || b.v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be within [0, 1], got %v", b.name, b.v))
		}
	}
	if sum := s.KeywordWeight + s.TagWeight + s.SemanticWeight + s.ImportanceWeight; math.Abs(sum-1) > 1e-9 {
		slog.Warn("search weights do not sum to 1", "sum", sum)
	}
	if s.DefaultLimit < 1 || s.DefaultLimit > s.MaxLimit {
		errs = append(errs, fmt.Sprintf("SEARCH_DEFAULT_LIMIT must be 1–%d, got %d", s.MaxLimit, s.DefaultLimit))
	}
	if s.CandidateLimit < 0 || (s.CandidateLimit > 0 && s.CandidateLimit < s.MaxLimit) {
		errs = append(errs, fmt.Sprintf("SEARCH_CANDIDATE_LIMIT must be 0 (unlimited) or at least SEARCH_MAX_LIMIT (%d), got %d", s.MaxLimit, s.CandidateLimit))
	}
	if s.Ranker != "weighted" && s.Ranker != "rrf" {
		errs = append(errs, fmt.Sprintf("SEARCH_RANKER must be weighted or rrf, got %q", s.Ranker))
	}

	// NATS: warn only
	if c.NATS.URL == "" {
		slog.Warn("NATS_URL is empty, search cache invalidation is local to this replica")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}
