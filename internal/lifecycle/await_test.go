package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

func fastOrchestrator(t *testing.T) (*Orchestrator, *cluster.MockGateway, *recorder) {
	t.Helper()
	o, gw, _, rec := running(t)
	o.pollInterval = time.Millisecond
	return o, gw, rec
}

func TestAwaitStepsCompletes(t *testing.T) {
	o, gw, rec := fastOrchestrator(t)
	var polls atomic.Int32
	gw.StepsFunc = func(ids []string) ([]cluster.StepStatus, error) {
		state := cluster.StepRunning
		if polls.Add(1) >= 3 {
			state = cluster.StepCompleted
		}
		out := make([]cluster.StepStatus, len(ids))
		for i, id := range ids {
			out[i] = cluster.StepStatus{ID: id, State: state}
		}
		return out, nil
	}

	sub := cluster.Submission{Handle: "j-ABC123", StepIDs: []string{"s-1", "s-2"}}
	if err := o.AwaitSteps(context.Background(), sub, time.Second); err != nil {
		t.Fatalf("AwaitSteps: %v", err)
	}
	if polls.Load() != 3 {
		t.Errorf("polls = %d, want 3", polls.Load())
	}
	// RUNNING then COMPLETED for each step.
	if n := rec.count(EventStepState); n != 4 {
		t.Errorf("step events = %d, want 4", n)
	}
}

func TestAwaitStepsFailure(t *testing.T) {
	o, gw, _ := fastOrchestrator(t)
	gw.StepStatuses["s-1"] = cluster.StepStatus{ID: "s-1", Name: "Run Spark job etl.py", State: cluster.StepFailed, Message: "Exit code 1"}

	sub := cluster.Submission{Handle: "j-ABC123", StepIDs: []string{"s-1"}}
	err := o.AwaitSteps(context.Background(), sub, time.Second)
	var sf *cluster.StepFailedError
	if !errors.As(err, &sf) {
		t.Fatalf("expected StepFailedError, got %v", err)
	}
	if sf.Step.ID != "s-1" || sf.Step.Message != "Exit code 1" {
		t.Errorf("failed step = %+v", sf.Step)
	}
	if o.State() != cluster.StateRunning {
		t.Errorf("state = %s, want RUNNING", o.State())
	}
}

func TestAwaitStepsTimeout(t *testing.T) {
	o, gw, _ := fastOrchestrator(t)
	gw.StepStatuses["s-1"] = cluster.StepStatus{ID: "s-1", State: cluster.StepPending}

	sub := cluster.Submission{Handle: "j-ABC123", StepIDs: []string{"s-1"}}
	err := o.AwaitSteps(context.Background(), sub, 20*time.Millisecond)
	if !errors.Is(err, cluster.ErrAwaitTimeout) {
		t.Fatalf("expected ErrAwaitTimeout, got %v", err)
	}
}

func TestAwaitStepsParentCancelled(t *testing.T) {
	o, gw, _ := fastOrchestrator(t)
	gw.StepStatuses["s-1"] = cluster.StepStatus{ID: "s-1", State: cluster.StepRunning}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sub := cluster.Submission{Handle: "j-ABC123", StepIDs: []string{"s-1"}}
	err := o.AwaitSteps(ctx, sub, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, cluster.ErrAwaitTimeout) {
		t.Error("cancellation must not be reported as a timeout")
	}
}

func TestAwaitStepsPollError(t *testing.T) {
	o, gw, _ := fastOrchestrator(t)
	gw.StepsFunc = func([]string) ([]cluster.StepStatus, error) {
		return nil, &cluster.GatewayError{Op: "ListSteps", Kind: cluster.KindUnknownHandle, Err: errors.New("missing")}
	}

	sub := cluster.Submission{Handle: "j-ABC123", StepIDs: []string{"s-1"}}
	err := o.AwaitSteps(context.Background(), sub, time.Second)
	if !errors.Is(err, cluster.ErrUnknownHandle) {
		t.Fatalf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestAwaitStepsRejectsForeignSubmission(t *testing.T) {
	o, gw, _ := fastOrchestrator(t)

	sub := cluster.Submission{Handle: "j-OTHER", StepIDs: []string{"s-1"}}
	if err := o.AwaitSteps(context.Background(), sub, time.Second); !errors.Is(err, cluster.ErrUnknownHandle) {
		t.Errorf("expected ErrUnknownHandle, got %v", err)
	}
	if gw.DescribeStepsCalls != 0 {
		t.Errorf("DescribeStepsCalls = %d, want 0", gw.DescribeStepsCalls)
	}
}

func TestAwaitStepsInvalidState(t *testing.T) {
	gw := cluster.NewMockGateway("j-1")
	o, _ := newTestOrchestrator(gw, &cluster.MockStager{Bucket: "b"})

	var ise *cluster.InvalidStateError
	err := o.AwaitSteps(context.Background(), cluster.Submission{Handle: "j-1", StepIDs: []string{"s-1"}}, 0)
	if !errors.As(err, &ise) {
		t.Errorf("expected InvalidStateError, got %v", err)
	}
}
