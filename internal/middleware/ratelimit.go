package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/memos-platform/memos/internal/metrics"
)

// SubjectFunc returns the identity a request is rate limited under, or ""
// to fall back to the client IP.
type SubjectFunc func(r *http.Request) string

// RateLimiter is a sliding-window limiter over Redis sorted sets. Each
// request adds one member scored by its arrival time; members older than
// the window are trimmed before counting.
type RateLimiter struct {
	client  redis.Cmdable
	maxReqs int
	window  time.Duration
	subject SubjectFunc
}

// NewRateLimiter creates a rate limiter that allows maxReqs per window.
// subject may be nil.
func NewRateLimiter(client redis.Cmdable, maxReqs int, window time.Duration, subject SubjectFunc) *RateLimiter {
	return &RateLimiter{client: client, maxReqs: maxReqs, window: window, subject: subject}
}

// Middleware enforces the limit and reports the remaining budget in
// X-RateLimit-* headers. Redis errors let the request through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, id := rl.identify(r)
		key := "ratelimit:" + kind + ":" + id

		used, err := rl.count(r.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, failing open", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.maxReqs))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(max(rl.maxReqs-used-1, 0)))

		if used >= rl.maxReqs {
			metrics.RateLimitedTotal.WithLabelValues(kind).Inc()
			h.Set("Content-Type", "application/json")
			h.Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) identify(r *http.Request) (kind, id string) {
	if rl.subject != nil {
		if s := rl.subject(r); s != "" {
			return "owner", s
		}
	}
	return "ip", clientIP(r)
}

// count records the request and returns how many requests preceded it
// inside the window.
func (rl *RateLimiter) count(ctx context.Context, key string) (int, error) {
	now := time.Now()
	floor := strconv.FormatInt(now.Add(-rl.window).UnixMilli(), 10)

	pipe := rl.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+floor)
	card := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: strconv.FormatInt(now.UnixNano(), 10)})
	pipe.Expire(ctx, key, rl.window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(card.Val()), nil
}

// clientIP prefers the first X-Forwarded-For hop set by the fronting proxy.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
