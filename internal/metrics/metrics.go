// Package metrics provides Prometheus metrics for provider calls, deploys and
// drift sweeps.
package metrics

import (
	"fmt"
	"io"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Global metrics - used by the application
	// Using atomic.Pointer so record functions are no-ops until Init runs.
	providerRequests  atomic.Pointer[prometheus.CounterVec]
	providerDuration  atomic.Pointer[prometheus.HistogramVec]
	proxyDowngrades   atomic.Pointer[prometheus.Counter]
	deploysTotal      atomic.Pointer[prometheus.CounterVec]
	driftFindingTotal atomic.Pointer[prometheus.CounterVec]
)

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer) error {
	// Provider call counter by operation and outcome
	providerRequestsVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freesub",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of DNS provider API calls",
		},
		[]string{"op", "outcome"},
	)
	if err := reg.Register(providerRequestsVec); err != nil {
		return fmt.Errorf("failed to register providerRequests: %w", err)
	}

	// Provider call latency
	providerDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "freesub",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "DNS provider API call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	if err := reg.Register(providerDurationVec); err != nil {
		return fmt.Errorf("failed to register providerDuration: %w", err)
	}

	proxyDowngradesCounter := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "freesub",
			Name:      "proxy_downgrades_total",
			Help:      "Records deployed with proxying disabled after the provider refused to proxy them",
		},
	)
	if err := reg.Register(proxyDowngradesCounter); err != nil {
		return fmt.Errorf("failed to register proxyDowngrades: %w", err)
	}

	deploysTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freesub",
			Name:      "deploys_total",
			Help:      "Deployer runs by action and result",
		},
		[]string{"action", "result"},
	)
	if err := reg.Register(deploysTotalVec); err != nil {
		return fmt.Errorf("failed to register deploysTotal: %w", err)
	}

	driftFindingsVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "freesub",
			Name:      "drift_findings_total",
			Help:      "Drift detector findings by status",
		},
		[]string{"status"},
	)
	if err := reg.Register(driftFindingsVec); err != nil {
		return fmt.Errorf("failed to register driftFindings: %w", err)
	}

	// Store metrics in atomics for lock-free access in record functions
	providerRequests.Store(providerRequestsVec)
	providerDuration.Store(providerDurationVec)
	proxyDowngrades.Store(&proxyDowngradesCounter)
	deploysTotal.Store(deploysTotalVec)
	driftFindingTotal.Store(driftFindingsVec)

	return nil
}

// RecordProviderRequest counts one provider call and observes its latency.
func RecordProviderRequest(op, outcome string, durationSeconds float64) {
	if counter := providerRequests.Load(); counter != nil {
		counter.WithLabelValues(op, outcome).Inc()
	}
	if histogram := providerDuration.Load(); histogram != nil {
		histogram.WithLabelValues(op).Observe(durationSeconds)
	}
}

// RecordProxyDowngrade counts a record deployed unproxied after a refusal.
func RecordProxyDowngrade() {
	if counter := proxyDowngrades.Load(); counter != nil {
		(*counter).Inc()
	}
}

// RecordDeploy counts a deployer action. result is "success" or "failure".
func RecordDeploy(action, result string) {
	if counter := deploysTotal.Load(); counter != nil {
		counter.WithLabelValues(action, result).Inc()
	}
}

// RecordDriftFinding counts one drift finding.
func RecordDriftFinding(status string) {
	if counter := driftFindingTotal.Load(); counter != nil {
		counter.WithLabelValues(status).Inc()
	}
}

// WriteTextfile writes every metric in reg to path in the text exposition
// format, for the node exporter textfile collector. The file is replaced
// atomically.
func WriteTextfile(reg prometheus.Gatherer, path string) error {
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

// GetMetricsText returns the Prometheus text-format output from a registry.
// This is useful for testing and debugging.
func GetMetricsText(reg prometheus.Gatherer) (string, error) {
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	// Use httptest to capture the handler output
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}

	return string(body), nil
}
