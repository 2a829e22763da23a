package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sync engine.
type Metrics struct {
	// --- Account registry ---
	GroupBootstrap   *prometheus.CounterVec
	RefreshApplied   prometheus.Counter
	RefreshDiscarded *prometheus.CounterVec
	RefreshErrors    prometheus.Counter
	SelectionRuns    prometheus.Counter
	SelectedEquity   prometheus.Gauge
	CandidateCount   prometheus.Gauge
	PendingRejected  *prometheus.CounterVec
	CrossGroupErrors prometheus.Counter
	FeeTier          prometheus.Gauge

	// --- Trade history ---
	BulkLoadDuration  prometheus.Histogram
	BulkLoadErrors    prometheus.Counter
	LiveFillsReceived prometheus.Counter
	LiveFillsMerged   prometheus.Counter
	LiveFillsKnown    prometheus.Counter
	HistoryLength     prometheus.Gauge

	// --- Live feed ---
	FeedMessages    prometheus.Counter
	FeedParseErrors prometheus.Counter

	// --- Query API ---
	APIRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		GroupBootstrap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "msync_group_bootstrap_total",
			Help: "Account group bootstrap attempts by outcome",
		}, []string{"outcome"}),

		RefreshApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_refresh_applied_total",
			Help: "Active-account refresh responses committed to state",
		}),

		RefreshDiscarded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "msync_refresh_discarded_total",
			Help: "Refresh responses dropped as stale (disconnect/switch)",
		}, []string{"reason"}),

		RefreshErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_refresh_errors_total",
			Help: "Collaborator failures during background refresh",
		}),

		SelectionRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_selection_runs_total",
			Help: "Equity-based account selections performed",
		}),

		SelectedEquity: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "msync_selected_equity",
			Help: "Equity of the active account at last selection",
		}),

		CandidateCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "msync_candidate_accounts",
			Help: "Margin accounts in the current candidate set",
		}),

		PendingRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "msync_pending_rejected_total",
			Help: "Operations rejected because the same kind was in flight",
		}, []string{"op"}),

		CrossGroupErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_cross_group_errors_total",
			Help: "Per-group failures during the cross-group equity sweep",
		}),

		FeeTier: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "msync_fee_tier",
			Help: "Current fee tier derived from staked balance",
		}),

		BulkLoadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "msync_history_bulk_load_seconds",
			Help:    "Historical fills bulk load duration",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),

		BulkLoadErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_history_bulk_load_errors_total",
			Help: "Per-sub-account failures during bulk load",
		}),

		LiveFillsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_live_fills_received_total",
			Help: "Fills received from the live feed",
		}),

		LiveFillsMerged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_live_fills_merged_total",
			Help: "Live fills merged into the history as new",
		}),

		LiveFillsKnown: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_live_fills_known_total",
			Help: "Live fills already present by dedup key",
		}),

		HistoryLength: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "msync_history_length",
			Help: "Length of the merged trade history",
		}),

		FeedMessages: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_feed_messages_total",
			Help: "Messages consumed from the fills stream",
		}),

		FeedParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "msync_feed_parse_errors_total",
			Help: "Fill messages dropped as unparseable",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "msync_api_requests_total",
			Help: "Query API requests",
		}, []string{"endpoint", "status"}),
	}
}
