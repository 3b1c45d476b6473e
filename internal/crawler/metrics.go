package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PagesFetched tracks resolved fetches, labeled by outcome.
	PagesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_pages_fetched_total",
		Help: "The total number of fetches resolved, labeled by outcome.",
	}, []string{"outcome"})
	// LinksEnqueued tracks newly discovered in-scope links added to the frontier.
	LinksEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_links_enqueued_total",
		Help: "The total number of new links added to the frontier.",
	})
	// RoundsCompleted tracks fan-out/fan-in cycles.
	RoundsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_rounds_total",
		Help: "The total number of crawl rounds completed.",
	})
	// RoundDuration observes wall time per round.
	RoundDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_round_duration_seconds",
		Help:    "Histogram of crawl round durations.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
	// CheckpointFailures tracks failed snapshot writes.
	CheckpointFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_checkpoint_failures_total",
		Help: "The total number of checkpoint writes that failed.",
	})
	// FrontierPending reports the current pending queue length.
	FrontierPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "crawler_frontier_pending",
		Help: "Number of targets waiting in the frontier.",
	})
)

func outcomeLabel(o FetchOutcome) string {
	if o.Kind == OutcomeSuccess && !o.Retrievable() {
		return "bad_status"
	}
	return o.Kind.String()
}
