package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/lifecycle"
)

// MetricsObserver counts lifecycle events in Prometheus collectors.
type MetricsObserver struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	errors      *prometheus.CounterVec
	steps       *prometheus.CounterVec
	uploads     prometheus.Counter
	uploadBytes prometheus.Counter
	stepResults *prometheus.CounterVec
}

// NewMetricsObserver registers the collectors in a fresh registry.
func NewMetricsObserver() *MetricsObserver {
	m := &MetricsObserver{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterlift_lifecycle_transitions_total",
			Help: "Cluster lifecycle state transitions.",
		}, []string{"from", "to"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterlift_gateway_errors_total",
			Help: "Failed control-plane operations by operation and error kind.",
		}, []string{"op", "kind"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterlift_steps_submitted_total",
			Help: "Steps accepted by the control plane.",
		}, []string{"kind"}),
		uploads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clusterlift_artifacts_uploaded_total",
			Help: "Scripts uploaded to durable storage.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clusterlift_artifact_bytes_total",
			Help: "Bytes uploaded to durable storage.",
		}),
		stepResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clusterlift_step_results_total",
			Help: "Steps observed reaching a terminal state.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(m.transitions, m.errors, m.steps, m.uploads, m.uploadBytes, m.stepResults)
	return m
}

// Registry exposes the collectors for scraping.
func (m *MetricsObserver) Registry() *prometheus.Registry { return m.registry }

func (m *MetricsObserver) Observe(_ context.Context, e lifecycle.Event) {
	switch e.Type {
	case lifecycle.EventTransition:
		m.transitions.WithLabelValues(string(e.From), string(e.To)).Inc()
	case lifecycle.EventUploaded:
		m.uploads.Inc()
		m.uploadBytes.Add(float64(e.Artifact.Size))
	case lifecycle.EventStepsSubmitted:
		m.steps.WithLabelValues(string(e.Kind)).Add(float64(len(e.Submission.StepIDs)))
	case lifecycle.EventStepState:
		if e.Step.Terminal() {
			m.stepResults.WithLabelValues(e.Step.State).Inc()
		}
	case lifecycle.EventError:
		m.errors.WithLabelValues(e.Op, cluster.KindOf(e.Err).String()).Inc()
	}
}

// WriteTextfile dumps the current values in the node_exporter textfile
// format, for runs too short to be scraped.
func (m *MetricsObserver) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
