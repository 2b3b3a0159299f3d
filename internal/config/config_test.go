package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Search.KeywordWeight != 0.4 || cfg.Search.TagWeight != 0.2 ||
		cfg.Search.SemanticWeight != 0.3 || cfg.Search.ImportanceWeight != 0.1 {
		t.Errorf("unexpected default weights: %+v", cfg.Search)
	}
	if cfg.Search.Threshold != 0.15 || cfg.Search.SimilarityThreshold != 0.7 {
		t.Errorf("unexpected default thresholds: %+v", cfg.Search)
	}
	if cfg.Search.CacheTTL != 5*time.Minute || cfg.Search.CacheSize != 100 {
		t.Errorf("unexpected cache defaults: ttl=%v size=%d", cfg.Search.CacheTTL, cfg.Search.CacheSize)
	}
	if cfg.Search.CandidateLimit != 0 || cfg.Search.MaxLimit != 100 {
		t.Errorf("unexpected limits: %+v", cfg.Search)
	}
	if cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("embedding timeout = %v, want 5s", cfg.Embedding.Timeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SEARCH_WEIGHT_SEMANTIC", "0")
	t.Setenv("SEARCH_CACHE_TTL", "30s")
	t.Setenv("SEARCH_RANKER", "rrf")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("DB_MAX_CONNS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("server port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Search.SemanticWeight != 0 {
		t.Errorf("semantic weight = %v, want explicit 0", cfg.Search.SemanticWeight)
	}
	if cfg.Search.CacheTTL != 30*time.Second {
		t.Errorf("cache ttl = %v, want 30s", cfg.Search.CacheTTL)
	}
	if cfg.Search.Ranker != "rrf" {
		t.Errorf("ranker = %q, want rrf", cfg.Search.Ranker)
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.CORS.AllowedOrigins, want) {
		t.Errorf("origins = %v, want %v", cfg.CORS.AllowedOrigins, want)
	}
	if cfg.DB.MaxConns != 5 {
		t.Errorf("max conns = %d, want 5", cfg.DB.MaxConns)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("EMBEDDING_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected duration parse error")
	}
}
