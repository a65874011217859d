package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	dripCounter           *prometheus.CounterVec
	dispatchCounter       *prometheus.CounterVec
	submitAttemptCounter  *prometheus.CounterVec
	confirmHistogram      prometheus.Histogram
	queueDepthGauge       prometheus.Gauge
	budgetRemainingGauge  prometheus.Gauge
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		dripCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_drip_requests_total",
			Help: "Drip intake outcomes (accepted or rejection reason)",
		}, []string{"outcome"})

		dispatchCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_dispatch_total",
			Help: "Terminal dispatch outcomes",
		}, []string{"outcome"})

		submitAttemptCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "faucet_submit_attempts_total",
			Help: "Individual submission attempts by result",
		}, []string{"result"})

		confirmHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "faucet_confirmation_duration_seconds",
			Help:    "Time from submission to confirmation",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		})

		queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucet_queue_depth",
			Help: "Transfer requests currently queued or in flight",
		})

		budgetRemainingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "faucet_budget_remaining_tokens",
			Help: "Rolling budget left until the next reset, in whole tokens",
		})

		prometheus.MustRegister(
			httpDurationHistogram,
			dripCounter,
			dispatchCounter,
			submitAttemptCounter,
			confirmHistogram,
			queueDepthGauge,
			budgetRemainingGauge,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementDrip(outcome string) {
	if dripCounter == nil {
		return
	}
	dripCounter.WithLabelValues(outcome).Inc()
}

func IncrementDispatch(outcome string) {
	if dispatchCounter == nil {
		return
	}
	dispatchCounter.WithLabelValues(outcome).Inc()
}

func IncrementSubmitAttempt(result string) {
	if submitAttemptCounter == nil {
		return
	}
	submitAttemptCounter.WithLabelValues(result).Inc()
}

func ObserveConfirmation(duration time.Duration) {
	if confirmHistogram == nil {
		return
	}
	confirmHistogram.Observe(duration.Seconds())
}

func SetQueueDepth(depth int) {
	if queueDepthGauge == nil {
		return
	}
	queueDepthGauge.Set(float64(depth))
}

func SetBudgetRemaining(tokens float64) {
	if budgetRemainingGauge == nil {
		return
	}
	budgetRemainingGauge.Set(tokens)
}
