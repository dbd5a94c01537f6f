package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/lifecycle"
)

func TestMetricsObserver(t *testing.T) {
	ctx := context.Background()
	m := NewMetricsObserver()

	m.Observe(ctx, lifecycle.Event{Type: lifecycle.EventTransition, From: cluster.StateUnstarted, To: cluster.StateProvisioning})
	m.Observe(ctx, lifecycle.Event{Type: lifecycle.EventTransition, From: cluster.StateProvisioning, To: cluster.StateRunning})
	m.Observe(ctx, lifecycle.Event{Type: lifecycle.EventUploaded, Artifact: cluster.Artifact{Size: 2048}})
	m.Observe(ctx, lifecycle.Event{
		Type:       lifecycle.EventStepsSubmitted,
		Kind:       cluster.KindStage,
		Submission: cluster.Submission{StepIDs: []string{"s-1", "s-2"}},
	})
	m.Observe(ctx, lifecycle.Event{Type: lifecycle.EventStepState, Step: cluster.StepStatus{ID: "s-1", State: cluster.StepRunning}})
	m.Observe(ctx, lifecycle.Event{Type: lifecycle.EventStepState, Step: cluster.StepStatus{ID: "s-1", State: cluster.StepFailed}})
	m.Observe(ctx, lifecycle.Event{
		Type: lifecycle.EventError,
		Op:   "terminate",
		Err:  &cluster.GatewayError{Op: "TerminateJobFlows", Kind: cluster.KindTransient, Err: errors.New("throttled")},
	})

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("PROVISIONING", "RUNNING")); got != 1 {
		t.Errorf("PROVISIONING->RUNNING = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.transitions); got != 2 {
		t.Errorf("transition series = %d, want 2", got)
	}
	if got := testutil.ToFloat64(m.steps.WithLabelValues("stage")); got != 2 {
		t.Errorf("stage steps = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.uploadBytes); got != 2048 {
		t.Errorf("upload bytes = %v, want 2048", got)
	}
	if got := testutil.ToFloat64(m.stepResults.WithLabelValues("FAILED")); got != 1 {
		t.Errorf("failed steps = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.stepResults); got != 1 {
		t.Errorf("non-terminal states should not be counted, got %d series", got)
	}
	if got := testutil.ToFloat64(m.errors.WithLabelValues("terminate", "transient")); got != 1 {
		t.Errorf("terminate errors = %v, want 1", got)
	}
}

func TestMetricsObserver_WriteTextfile(t *testing.T) {
	m := NewMetricsObserver()
	m.Observe(context.Background(), lifecycle.Event{Type: lifecycle.EventTransition, From: cluster.StateRunning, To: cluster.StateTerminating})

	path := filepath.Join(t.TempDir(), "clusterlift.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `clusterlift_lifecycle_transitions_total{from="RUNNING",to="TERMINATING"} 1`) {
		t.Errorf("textfile missing transition counter:\n%s", data)
	}
}

func TestLogObserver(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := NewLogObserver(logger)
	ctx := context.Background()

	l.Observe(ctx, lifecycle.Event{SessionID: "abc", Handle: "j-1", Type: lifecycle.EventTransition, From: cluster.StateRunning, To: cluster.StateTerminating})
	l.Observe(ctx, lifecycle.Event{SessionID: "abc", Handle: "j-1", Type: lifecycle.EventTransition, From: cluster.StateTerminating, To: cluster.StateRunning})
	l.Observe(ctx, lifecycle.Event{SessionID: "abc", Handle: "j-1", Type: lifecycle.EventError, Op: "terminate", Err: errors.New("boom")})

	out := buf.String()
	for _, want := range []string{
		`level=INFO msg="terminating cluster"`,
		`level=WARN msg="termination failed, cluster still running"`,
		`level=ERROR msg="control plane operation failed"`,
		"session=abc",
		"cluster=j-1",
		"op=terminate",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}
