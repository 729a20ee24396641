package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionsTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "worktable_submissions_total", Help: "Field submissions dispatched to the server"})
	SubmissionFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "worktable_submission_failures_total", Help: "Field submissions rejected by the server"})
	RollbacksTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "worktable_rollbacks_total", Help: "Optimistic edits rolled back after failure"})
	CoalescedTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "worktable_proposals_coalesced_total", Help: "Proposed values superseded before their debounce fired"})
	DocumentsUploaded  = prometheus.NewCounter(prometheus.CounterOpts{Name: "worktable_documents_uploaded_total", Help: "Completion documents captured and uploaded"})
	RateLimitRejects   = prometheus.NewCounter(prometheus.CounterOpts{Name: "worktable_rate_limit_rejects_total", Help: "PATCH requests rejected by the per-employee limiter"})
	InFlightGauge      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "worktable_submissions_inflight", Help: "Submissions currently awaiting a server response"})
	PendingEditsGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "worktable_pending_edits", Help: "Debounced edits waiting for their timer to fire"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			SubmissionFailures,
			RollbacksTotal,
			CoalescedTotal,
			DocumentsUploaded,
			RateLimitRejects,
			InFlightGauge,
			PendingEditsGauge,
		)
	})
	return promhttp.Handler()
}
