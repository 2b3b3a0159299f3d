package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Auth      AuthConfig
	Embedding EmbeddingConfig
	Search    SearchConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	MCP       MCPConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxConns       int32
	MigrationsPath string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig is optional; an empty URL disables cross-replica cache invalidation.
type NATSConfig struct {
	URL    string
	Stream string
}

type AuthConfig struct {
	JWTSecret   string
	JWTAudience string
	BcryptCost  int
	KeyCacheTTL time.Duration
}

// EmbeddingConfig selects the embedding provider. Provider "none" disables
// semantic scoring.
type EmbeddingConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

type SearchConfig struct {
	KeywordWeight       float64
	TagWeight           float64
	SemanticWeight      float64
	ImportanceWeight    float64
	Threshold           float64
	SimilarityThreshold float64
	PopularityBonus     float64
	CandidateLimit      int
	DefaultLimit        int
	MaxLimit            int
	CacheSize           int
	CacheTTL            time.Duration
	Ranker              string
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

// MCPConfig identifies the owner an MCP stdio session acts for, either
// through an API key or a fixed owner id.
type MCPConfig struct {
	APIKey  string
	OwnerID string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:           k.String("db.host"),
			Port:           k.Int("db.port"),
			User:           k.String("db.user"),
			Password:       k.String("db.password"),
			Name:           k.String("db.name"),
			SSLMode:        k.String("db.sslmode"),
			MaxConns:       int32(k.Int("db.max.conns")),
			MigrationsPath: k.String("db.migrations.path"),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:    k.String("nats.url"),
			Stream: k.String("nats.stream"),
		},
		Auth: AuthConfig{
			JWTSecret:   k.String("auth.jwt.secret"),
			JWTAudience: k.String("auth.jwt.audience"),
			BcryptCost:  k.Int("auth.bcrypt.cost"),
		},
		Embedding: EmbeddingConfig{
			Provider: k.String("embedding.provider"),
			APIKey:   k.String("embedding.api.key"),
			BaseURL:  k.String("embedding.base.url"),
			Model:    k.String("embedding.model"),
		},
		Search: SearchConfig{
			KeywordWeight:       floatOr(k, "search.weight.keyword", 0.4),
			TagWeight:           floatOr(k, "search.weight.tag", 0.2),
			SemanticWeight:      floatOr(k, "search.weight.semantic", 0.3),
			ImportanceWeight:    floatOr(k, "search.weight.importance", 0.1),
			Threshold:           floatOr(k, "search.threshold", 0.15),
			SimilarityThreshold: floatOr(k, "search.similarity.threshold", 0.7),
			PopularityBonus:     floatOr(k, "search.popularity.bonus", 0.05),
			CandidateLimit:      k.Int("search.candidate.limit"),
			DefaultLimit:        k.Int("search.default.limit"),
			MaxLimit:            k.Int("search.max.limit"),
			CacheSize:           k.Int("search.cache.size"),
			Ranker:              k.String("search.ranker"),
		},
		RateLimit: RateLimitConfig{
			Requests: k.Int("ratelimit.requests"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(k.String("cors.allowed.origins")),
		},
		MCP: MCPConfig{
			APIKey:  k.String("mcp.api.key"),
			OwnerID: k.String("mcp.owner.id"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "memos"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "memos"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.DB.MigrationsPath == "" {
		cfg.DB.MigrationsPath = "migrations"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "MEMOS"
	}
	if cfg.Auth.BcryptCost == 0 {
		cfg.Auth.BcryptCost = 12
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
	if cfg.Search.CacheSize == 0 {
		cfg.Search.CacheSize = 100
	}
	if cfg.Search.Ranker == "" {
		cfg.Search.Ranker = "weighted"
	}
	if cfg.RateLimit.Requests == 0 {
		cfg.RateLimit.Requests = 120
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Parse durations
	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"server.shutdown.timeout", "10s", &cfg.Server.ShutdownTimeout},
		{"auth.key.cache.ttl", "5m", &cfg.Auth.KeyCacheTTL},
		{"embedding.timeout", "5s", &cfg.Embedding.Timeout},
		{"embedding.cache.ttl", "24h", &cfg.Embedding.CacheTTL},
		{"search.cache.ttl", "5m", &cfg.Search.CacheTTL},
		{"ratelimit.window", "1m", &cfg.RateLimit.Window},
	}
	for _, d := range durations {
		s := k.String(d.key)
		if s == "" {
			s = d.def
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", d.key, err)
		}
		*d.dst = v
	}

	return cfg, nil
}

func floatOr(k *koanf.Koanf, key string, def float64) float64 {
	if !k.Exists(key) {
		return def
	}
	return k.Float64(key)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
