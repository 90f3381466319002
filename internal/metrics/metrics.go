package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Submissions counts recorded flag submissions by scope kind and outcome.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctfscore_submissions_total",
			Help: "Total number of recorded flag submissions",
		},
		[]string{"scope", "outcome"}, // outcome: wrong, credited, duplicate
	)

	// PointsAwarded sums points granted by scope kind.
	PointsAwarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctfscore_points_awarded_total",
			Help: "Total number of points awarded",
		},
		[]string{"scope"},
	)

	// EventClaims counts practice solves replayed into event scope.
	EventClaims = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctfscore_event_claims_total",
			Help: "Total number of event credits claimed from practice solves",
		},
	)

	// LeaderboardDuration measures full leaderboard recomputation.
	LeaderboardDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctfscore_leaderboard_compute_duration_seconds",
			Help:    "Leaderboard computation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	// CacheHits counts challenge catalog cache hits by backend.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctfscore_catalog_cache_hits_total",
			Help: "Total number of challenge catalog cache hits",
		},
		[]string{"backend"},
	)

	// CacheMisses counts challenge catalog cache misses by backend.
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctfscore_catalog_cache_misses_total",
			Help: "Total number of challenge catalog cache misses",
		},
		[]string{"backend"},
	)

	// CacheErrors counts cache backend failures that fell through to the loader.
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctfscore_catalog_cache_errors_total",
			Help: "Total number of challenge catalog cache backend errors",
		},
		[]string{"backend"},
	)

	// RequestDuration measures HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ctfscore_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "route"},
	)

	// LeaderboardWatchers tracks open leaderboard streams.
	LeaderboardWatchers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ctfscore_leaderboard_watchers",
			Help: "Number of open leaderboard streams",
		},
	)
)

// ScopeLabel collapses scopes to a bounded label set.
func ScopeLabel(global bool) string {
	if global {
		return "global"
	}
	return "event"
}

// ObserveLeaderboard records the duration of a leaderboard computation.
func ObserveLeaderboard(global bool, start time.Time) {
	LeaderboardDuration.WithLabelValues(ScopeLabel(global)).Observe(time.Since(start).Seconds())
}
