package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memos_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memos_search_duration_seconds",
			Help:    "Search latency in seconds, including cache hits.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"sort_by"},
	)

	SearchCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memos_search_candidates",
			Help:    "Number of candidate records fetched per uncached search.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 7),
		},
	)

	SearchCandidatesTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memos_search_candidates_truncated_total",
			Help: "Searches whose candidate fetch was cut by the candidate limit.",
		},
	)

	SearchResultsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memos_search_results_returned",
			Help:    "Number of results returned per search.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		},
	)

	SearchCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_search_cache_total",
			Help: "Search result cache lookups by outcome.",
		},
		[]string{"result"},
	)

	SearchCacheInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "memos_search_cache_invalidations_total",
			Help: "Number of per-owner search cache invalidations.",
		},
	)

	EmbeddingFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_embedding_failures_total",
			Help: "Embedding generation failures by caller.",
		},
		[]string{"source"},
	)

	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_events_published_total",
			Help: "Memo events published to NATS.",
		},
		[]string{"action"},
	)

	RateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by subject kind.",
		},
		[]string{"subject"},
	)

	EventsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memos_events_consumed_total",
			Help: "Memo events consumed from NATS.",
		},
		[]string{"action"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SearchDuration,
		SearchCandidates,
		SearchCandidatesTruncatedTotal,
		SearchResultsReturned,
		SearchCacheTotal,
		SearchCacheInvalidationsTotal,
		EmbeddingFailuresTotal,
		EventsPublishedTotal,
		EventsConsumedTotal,
		RateLimitedTotal,
	)
}
