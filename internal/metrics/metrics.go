// Package metrics provides Prometheus metrics collection for the random
// forest trainer and prediction service. It defines and manages the
// training, prediction, and serving metrics exposed via the Prometheus
// metrics endpoint for monitoring and alerting.
//
// The package includes metrics for tree induction, forest fitting, batch
// predictions, HTTP and WebSocket serving, and model freshness.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the forest service.
// It provides counters, gauges, and histograms for comprehensive monitoring
// of training runs, predictions, and the model server.
type Metrics struct {
	// Training metrics
	TreesTrained  prometheus.Counter   // Total number of trees trained
	TrainFailures prometheus.Counter   // Total number of tree training failures
	FitDuration   prometheus.Histogram // Duration of a full forest fit
	TreeDepth     prometheus.Histogram // Depth of trained trees
	TreeNodes     prometheus.Histogram // Node count of trained trees

	// Prediction metrics
	Predictions    prometheus.Counter   // Total number of rows classified
	PredictLatency prometheus.Histogram // Forest prediction latency per batch
	ModelAge       prometheus.Gauge     // Age of the served model in seconds
	ModelAccuracy  prometheus.Gauge     // Held-out accuracy of the served model

	// Server metrics
	RequestsTotal prometheus.Counter // Total number of prediction requests
	ErrorsTotal   prometheus.Counter // Total number of failed prediction requests
	WSSessions    prometheus.Gauge   // Number of open WebSocket prediction sessions

	gatherer prometheus.Gatherer
}

// New creates and registers all Prometheus metrics using the default registry.
// This is the standard way to create metrics for production use.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
// This allows for isolated metric collection in tests without affecting
// the global Prometheus registry.
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	m := &Metrics{
		TreesTrained: factory.NewCounter(prometheus.CounterOpts{
			Name: "forest_trees_trained_total",
			Help: "Total number of trees trained",
		}),
		TrainFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "forest_train_failures_total",
			Help: "Total number of tree training failures",
		}),
		FitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forest_fit_duration_seconds",
			Help:    "Duration of a full forest fit in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}),
		TreeDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forest_tree_depth",
			Help:    "Depth of trained trees",
			Buckets: prometheus.LinearBuckets(0, 2, 16),
		}),
		TreeNodes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forest_tree_nodes",
			Help:    "Number of nodes in trained trees",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		}),
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "forest_predictions_total",
			Help: "Total number of rows classified",
		}),
		PredictLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forest_predict_latency_seconds",
			Help:    "Forest prediction latency per batch in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forest_model_age_seconds",
			Help: "Age of the served model in seconds",
		}),
		ModelAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forest_model_accuracy",
			Help: "Held-out accuracy recorded for the served model",
		}),
		RequestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "forest_requests_total",
			Help: "Total number of prediction requests",
		}),
		ErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "forest_errors_total",
			Help: "Total number of failed prediction requests",
		}),
		WSSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "forest_ws_sessions",
			Help: "Number of open WebSocket prediction sessions",
		}),
	}
	if g, ok := registerer.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// Gatherer returns the registry the metrics were registered with, falling
// back to the default gatherer.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.gatherer == nil {
		return prometheus.DefaultGatherer
	}
	return m.gatherer
}

// GetErrorRate calculates the current error rate based on total requests and errors.
// Returns the ratio of failed to total requests, or 0 if no requests have been recorded
// or the registry cannot be gathered.
func (m *Metrics) GetErrorRate() float64 {
	if m.gatherer == nil {
		return 0
	}

	var totalRequests, totalErrors float64

	metricFamilies, err := m.gatherer.Gather()
	if err != nil {
		return 0
	}

	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "forest_requests_total":
			for _, m := range mf.Metric {
				totalRequests = m.GetCounter().GetValue()
			}
		case "forest_errors_total":
			for _, m := range mf.Metric {
				totalErrors = m.GetCounter().GetValue()
			}
		}
	}

	// Avoid division by zero
	if totalRequests == 0 {
		return 0
	}

	return totalErrors / totalRequests
}
