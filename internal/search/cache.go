package search

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/memos-platform/memos/internal/metrics"
)

// Cache defaults.
const (
	DefaultCacheSize = 100
	DefaultCacheTTL  = 5 * time.Minute
)

// Cache memoizes ranked results per normalized query. Entries expire after
// the TTL and are also swept in the background; when full, the oldest
// insertion is evicted. Reads never refresh an entry.
//
// Each owner has a generation that InvalidateOwner advances, so a search
// that started before an invalidation cannot store its result afterwards.
type Cache struct {
	lru *expirable.LRU[string, []Result]

	mu   sync.Mutex
	gens map[string]uint64
}

func NewCache(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		lru:  expirable.NewLRU[string, []Result](size, nil, ttl),
		gens: make(map[string]uint64),
	}
}

// Get returns a copy of the cached results for key.
func (c *Cache) Get(key string) ([]Result, bool) {
	results, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	return copyResults(results), true
}

// Set stores a copy of results under key.
func (c *Cache) Set(key string, results []Result) {
	c.lru.Add(key, copyResults(results))
}

// Generation returns the owner's current invalidation generation.
func (c *Cache) Generation(ownerID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[ownerID]
}

// SetIfCurrent stores results under key unless ownerID was invalidated
// since gen was read. It reports whether the entry was stored.
func (c *Cache) SetIfCurrent(ownerID string, gen uint64, key string, results []Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[ownerID] != gen {
		return false
	}
	c.lru.Add(key, copyResults(results))
	return true
}

// InvalidateOwner drops every entry belonging to ownerID and returns how many were removed.
func (c *Cache) InvalidateOwner(ownerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[ownerID]++

	prefix := ownerID + ":"
	removed := 0
	for _, k := range c.lru.Keys() {
		if strings.HasPrefix(k, prefix) && !strings.Contains(k[len(prefix):], ":") {
			if c.lru.Remove(k) {
				removed++
			}
		}
	}
	metrics.SearchCacheInvalidationsTotal.Inc()
	return removed
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

// cacheKeyFields is the canonical form of a query. Field order is fixed by
// the struct, tags are sorted and times are UTC.
type cacheKeyFields struct {
	Owner          string     `json:"owner"`
	Text           string     `json:"text"`
	SessionID      string     `json:"session_id"`
	Limit          int        `json:"limit"`
	Tags           []string   `json:"tags"`
	AuthorRole     string     `json:"author_role"`
	MinImportance  *float64   `json:"min_importance"`
	MaxImportance  *float64   `json:"max_importance"`
	Start          *time.Time `json:"start"`
	End            *time.Time `json:"end"`
	SortBy         SortBy     `json:"sort_by"`
	IncludePopular bool       `json:"include_popular"`
}

// CacheKey derives the cache key of a validated query as
// "<owner>:<sha256 of canonical JSON>".
func CacheKey(q Query) (string, error) {
	tags := make([]string, 0, len(q.Filters.Tags))
	for _, t := range q.Filters.Tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags = append(tags, t)
		}
	}
	sort.Strings(tags)

	fields := cacheKeyFields{
		Owner:          q.OwnerID,
		Text:           normalizeText(q.Text),
		SessionID:      q.Filters.SessionID,
		Limit:          q.Limit,
		Tags:           tags,
		AuthorRole:     q.Filters.AuthorRole,
		MinImportance:  q.Filters.MinImportance,
		MaxImportance:  q.Filters.MaxImportance,
		SortBy:         q.SortBy,
		IncludePopular: q.Filters.IncludePopular,
	}
	if dr := q.Filters.DateRange; dr != nil {
		fields.Start = utc(dr.Start)
		fields.End = utc(dr.End)
	}

	raw, err := json.Marshal(fields)
	if err != nil {
		return "", &CacheError{Op: "key", Err: err}
	}
	sum := sha256.Sum256(raw)
	return q.OwnerID + ":" + hex.EncodeToString(sum[:]), nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func copyResults(in []Result) []Result {
	out := make([]Result, len(in))
	for i, r := range in {
		out[i] = r
		if r.Tags != nil {
			out[i].Tags = append([]string(nil), r.Tags...)
		}
		if r.Score != nil {
			s := *r.Score
			out[i].Score = &s
		}
	}
	return out
}
