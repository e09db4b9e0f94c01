// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	apiCallDurationSeconds *prometheus.HistogramVec
	keyRotationsTotal      prometheus.Counter
	poolExhaustionsTotal   prometheus.Counter
	pagesTotal             *prometheus.CounterVec
	commentsUpsertedTotal  prometheus.Counter
	forumPostsTotal        prometheus.Counter

	once sync.Once
)

// Init registers the collectors. Safe to call more than once; the helpers
// below are no-ops until it runs.
func Init() {
	once.Do(func() {
		apiCallDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_api_call_duration_seconds",
				Help:    "Duration of outbound API calls, labeled by outcome.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		)

		keyRotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_key_rotations_total",
			Help: "Total number of API key rotations triggered by quota errors.",
		})

		poolExhaustionsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_pool_exhaustions_total",
			Help: "Total number of times the whole credential pool was exhausted.",
		})

		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_total",
				Help: "Total number of comment pages fetched, labeled by stream kind.",
			},
			[]string{"kind"},
		)

		commentsUpsertedTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_comments_upserted_total",
			Help: "Total number of comment records upserted.",
		})

		forumPostsTotal = promauto.NewCounter(prometheus.CounterOpts{
			Name: "harvester_forum_posts_total",
			Help: "Total number of forum posts upserted.",
		})
	})
}

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAPICall records one outbound API call.
func ObserveAPICall(d time.Duration, ok bool) {
	if apiCallDurationSeconds == nil {
		return
	}
	outcome := "error"
	if ok {
		outcome = "ok"
	}
	apiCallDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// IncKeyRotation counts one key rotation.
func IncKeyRotation() {
	if keyRotationsTotal != nil {
		keyRotationsTotal.Inc()
	}
}

// IncPoolExhaustion counts one full-pool exhaustion.
func IncPoolExhaustion() {
	if poolExhaustionsTotal != nil {
		poolExhaustionsTotal.Inc()
	}
}

// IncPage counts one fetched page for the given stream kind.
func IncPage(kind string) {
	if pagesTotal != nil {
		pagesTotal.WithLabelValues(kind).Inc()
	}
}

// AddCommentsUpserted counts upserted comment records.
func AddCommentsUpserted(n int64) {
	if commentsUpsertedTotal != nil && n > 0 {
		commentsUpsertedTotal.Add(float64(n))
	}
}

// AddForumPosts counts upserted forum posts.
func AddForumPosts(n int64) {
	if forumPostsTotal != nil && n > 0 {
		forumPostsTotal.Add(float64(n))
	}
}
