// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nudge"

// #region collectors
var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decisions_total",
		Help:      "Decisions served, by selected arm",
	}, []string{"arm"})

	selectDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "select_duration_seconds",
		Help:      "Time to build context and select an arm",
		Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 14), // 10us to ~160ms
	})

	feedbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "feedback_total",
		Help:      "Feedback calls by outcome",
	}, []string{"outcome"})

	rewardSum = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reward_sum",
		Help:      "Sum of non-negative rewards applied to the engine",
	})

	inversionFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inversion_fallbacks_total",
		Help:      "Matrix inversions that needed the ridge fallback, by arm",
	}, []string{"arm"})

	persistenceErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_errors_total",
		Help:      "Persistence failures by operation",
	}, []string{"op"})

	persistenceSaves = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "persistence_saves_total",
		Help:      "Successful model snapshots written",
	})
)
// #endregion collectors

// #region feedback-outcomes
const (
	FeedbackApplied    = "applied"
	FeedbackNotFound   = "not_found"
	FeedbackInvalid    = "invalid"
	FeedbackUpdateFail = "update_failed"
)
// #endregion feedback-outcomes

// #region observers
// ObserveDecision records one served decision and its latency.
func ObserveDecision(arm int, elapsed time.Duration) {
	decisionsTotal.WithLabelValues(strconv.Itoa(arm)).Inc()
	selectDuration.Observe(elapsed.Seconds())
}

// ObserveFeedback counts a feedback call. reward is added to reward_sum only
// for applied feedback; counters cannot go down, so negative rewards are
// counted but not summed.
func ObserveFeedback(outcome string, reward float64) {
	feedbackTotal.WithLabelValues(outcome).Inc()
	if outcome == FeedbackApplied && reward > 0 {
		rewardSum.Add(reward)
	}
}

// ObserveFallback counts a ridge-regularized inversion for arm.
func ObserveFallback(arm int) {
	inversionFallbacks.WithLabelValues(strconv.Itoa(arm)).Inc()
}

// ObservePersistError counts a failed persistence operation ("save", "load",
// "journal", "audit").
func ObservePersistError(op string) {
	persistenceErrors.WithLabelValues(op).Inc()
}

// ObserveSave counts a successful snapshot.
func ObserveSave() {
	persistenceSaves.Inc()
}
// #endregion observers

// #region handler
// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
// #endregion handler
