package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register and
// every helper no-ops until that has happened, so the supervisor can run
// with metrics fully disabled.
var (
	regOK atomic.Bool

	testsStarted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dipot",
			Subsystem: "suite",
			Name:      "tests_started_total",
			Help:      "Number of test starts, including retries after resume.",
		}, []string{"flavour"},
	)
	testsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dipot",
			Subsystem: "suite",
			Name:      "tests_finished_total",
			Help:      "Number of finished tests by terminal journal code.",
		}, []string{"flavour", "code"},
	)
	testDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dipot",
			Subsystem: "suite",
			Name:      "test_duration_seconds",
			Help:      "Wall-clock duration of finished tests.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"flavour"},
	)
	runningTests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dipot",
			Subsystem: "suite",
			Name:      "running_tests",
			Help:      "Tests currently occupying a slot.",
		},
	)
	consecutiveTimeouts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dipot",
			Subsystem: "suite",
			Name:      "consecutive_timeouts",
			Help:      "Current run of back-to-back inactivity timeouts.",
		},
	)
)

// Register registers all collectors with r. Safe to call more than once;
// an AlreadyRegisteredError is tolerated so the default registry works.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{testsStarted, testsFinished, testDuration, runningTests, consecutiveTimeouts}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer; the caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

func IncStarted(flavour string) {
	if regOK.Load() {
		testsStarted.WithLabelValues(flavour).Inc()
	}
}

func IncFinished(flavour, code string) {
	if regOK.Load() {
		testsFinished.WithLabelValues(flavour, code).Inc()
	}
}

func ObserveDuration(flavour string, seconds float64) {
	if regOK.Load() {
		testDuration.WithLabelValues(flavour).Observe(seconds)
	}
}

func SetRunning(n int) {
	if regOK.Load() {
		runningTests.Set(float64(n))
	}
}

func SetConsecutiveTimeouts(n int) {
	if regOK.Load() {
		consecutiveTimeouts.Set(float64(n))
	}
}
