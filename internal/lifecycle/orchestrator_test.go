package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) transitions() []cluster.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []cluster.State
	for _, e := range r.events {
		if e.Type == EventTransition {
			out = append(out, e.To)
		}
	}
	return out
}

func (r *recorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testSpec() cluster.Spec {
	return cluster.Spec{
		Name:               "test-cluster",
		ReleaseLabel:       "emr-5.29.0",
		MasterInstanceType: "m5.xlarge",
		CoreInstanceType:   "m5.xlarge",
		InstanceCount:      3,
		Applications:       []string{"Hadoop", "Spark"},
		InstanceRole:       "EMR_EC2_DefaultRole",
		ServiceRole:        "EMR_DefaultRole",
	}
}

func newTestOrchestrator(gw *cluster.MockGateway, stager *cluster.MockStager) (*Orchestrator, *recorder) {
	rec := &recorder{}
	o := New(Config{
		Gateway:   gw,
		Stager:    stager,
		Observer:  rec,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		SessionID: "session-1",
	})
	return o, rec
}

func running(t *testing.T) (*Orchestrator, *cluster.MockGateway, *cluster.MockStager, *recorder) {
	t.Helper()
	gw := cluster.NewMockGateway("j-ABC123")
	stager := &cluster.MockStager{Bucket: "bucket"}
	o, rec := newTestOrchestrator(gw, stager)
	if _, err := o.Start(context.Background(), testSpec()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return o, gw, stager, rec
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	gw := cluster.NewMockGateway("j-ABC123")
	stager := &cluster.MockStager{Bucket: "bucket"}
	o, rec := newTestOrchestrator(gw, stager)

	h, err := o.Start(ctx, testSpec())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if h != "j-ABC123" {
		t.Errorf("handle = %q, want j-ABC123", h)
	}
	if o.State() != cluster.StateRunning {
		t.Errorf("state = %s, want RUNNING", o.State())
	}

	staged, err := o.Deploy(ctx, "etl.py")
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if staged.URI() != "s3://bucket/scripts/etl.py" {
		t.Errorf("URI = %q, want s3://bucket/scripts/etl.py", staged.URI())
	}
	if staged.DestPath() != "/home/hadoop/etl.py" {
		t.Errorf("DestPath = %q", staged.DestPath())
	}
	if len(gw.Batches) != 1 || len(gw.Batches[0]) != 1 || gw.Batches[0][0].Kind != cluster.KindStage {
		t.Fatalf("expected one stage step, got %+v", gw.Batches)
	}

	if _, err := o.Run(ctx, staged); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(gw.Batches) != 2 || len(gw.Batches[1]) != 1 {
		t.Fatalf("expected a second batch with one step, got %+v", gw.Batches)
	}
	exec := gw.Batches[1][0]
	if exec.Kind != cluster.KindExecute {
		t.Errorf("second step kind = %s", exec.Kind)
	}
	want := []string{"spark-submit", "/home/hadoop/etl.py"}
	if len(exec.Args) != 2 || exec.Args[0] != want[0] || exec.Args[1] != want[1] {
		t.Errorf("execute args = %v, want %v", exec.Args, want)
	}

	if err := o.Terminate(ctx); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if gw.TerminateCalls != 1 || gw.TerminatedHandles[0] != "j-ABC123" {
		t.Errorf("terminate calls = %d %v", gw.TerminateCalls, gw.TerminatedHandles)
	}
	if o.State() != cluster.StateTerminated {
		t.Errorf("state = %s, want TERMINATED", o.State())
	}

	got := rec.transitions()
	wantStates := []cluster.State{
		cluster.StateProvisioning,
		cluster.StateRunning,
		cluster.StateTerminating,
		cluster.StateTerminated,
	}
	if len(got) != len(wantStates) {
		t.Fatalf("transitions = %v, want %v", got, wantStates)
	}
	for i := range wantStates {
		if got[i] != wantStates[i] {
			t.Errorf("transition[%d] = %s, want %s", i, got[i], wantStates[i])
		}
	}
	if rec.count(EventUploaded) != 1 || rec.count(EventStepsSubmitted) != 2 {
		t.Errorf("uploaded=%d submitted=%d", rec.count(EventUploaded), rec.count(EventStepsSubmitted))
	}
}

func TestStartTwice(t *testing.T) {
	o, gw, _, _ := running(t)

	_, err := o.Start(context.Background(), testSpec())
	var ise *cluster.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InvalidStateError, got %v", err)
	}
	if gw.ProvisionCalls != 1 {
		t.Errorf("ProvisionCalls = %d, want 1", gw.ProvisionCalls)
	}
}

func TestStartTagsSession(t *testing.T) {
	gw := cluster.NewMockGateway("j-1")
	o, _ := newTestOrchestrator(gw, &cluster.MockStager{Bucket: "b"})
	spec := testSpec()
	spec.Tags = map[string]string{"team": "data"}

	if _, err := o.Start(context.Background(), spec); err != nil {
		t.Fatal(err)
	}
	if gw.ProvisionedSpec.Tags[SessionTag] != "session-1" {
		t.Errorf("session tag = %q", gw.ProvisionedSpec.Tags[SessionTag])
	}
	if _, ok := spec.Tags[SessionTag]; ok {
		t.Error("caller's spec must not be mutated")
	}
}

func TestStartQuotaFailure(t *testing.T) {
	ctx := context.Background()
	gw := cluster.NewMockGateway("j-1")
	gw.ProvisionErr = &cluster.GatewayError{Op: "RunJobFlow", Kind: cluster.KindQuota, Err: errors.New("vCPU limit")}
	o, rec := newTestOrchestrator(gw, &cluster.MockStager{Bucket: "b"})

	_, err := o.Start(ctx, testSpec())
	var pe *cluster.ProvisionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProvisionError, got %v", err)
	}
	if !errors.Is(err, cluster.ErrQuotaExceeded) {
		t.Errorf("expected quota classification, got %v", err)
	}
	if o.State() != cluster.StateFailed {
		t.Errorf("state = %s, want FAILED", o.State())
	}
	if o.Handle() != "" {
		t.Errorf("handle = %q, want empty", o.Handle())
	}

	before := gw.Calls()
	if err := o.Terminate(ctx); err != nil {
		t.Errorf("Terminate on FAILED: %v", err)
	}
	if gw.Calls() != before {
		t.Errorf("Terminate on FAILED made %d gateway calls", gw.Calls()-before)
	}
	if o.State() != cluster.StateFailed {
		t.Errorf("state = %s, want FAILED", o.State())
	}
	if rec.count(EventError) != 1 {
		t.Errorf("error events = %d, want 1", rec.count(EventError))
	}
}

func TestStartInvalidSpec(t *testing.T) {
	gw := cluster.NewMockGateway("j-1")
	o, _ := newTestOrchestrator(gw, &cluster.MockStager{Bucket: "b"})
	spec := testSpec()
	spec.InstanceCount = 0

	_, err := o.Start(context.Background(), spec)
	if !errors.Is(err, cluster.ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
	if gw.ProvisionCalls != 0 {
		t.Error("invalid spec must not reach the control plane")
	}
	if o.State() != cluster.StateFailed {
		t.Errorf("state = %s, want FAILED", o.State())
	}
}

func TestTerminateIdempotent(t *testing.T) {
	ctx := context.Background()
	o, gw, _, _ := running(t)

	for i := 0; i < 4; i++ {
		if err := o.Terminate(ctx); err != nil {
			t.Fatalf("Terminate #%d: %v", i+1, err)
		}
	}
	if gw.TerminateCalls != 1 {
		t.Errorf("TerminateCalls = %d, want 1", gw.TerminateCalls)
	}
}

func TestTerminateFailureReverts(t *testing.T) {
	ctx := context.Background()
	o, gw, _, _ := running(t)
	gw.TerminateErr = errors.New("throttled")

	err := o.Terminate(ctx)
	var te *cluster.TerminationError
	if !errors.As(err, &te) || te.Handle != "j-ABC123" {
		t.Fatalf("expected TerminationError for j-ABC123, got %v", err)
	}
	if o.State() != cluster.StateRunning {
		t.Errorf("state = %s, want RUNNING after failed terminate", o.State())
	}

	gw.TerminateErr = nil
	if err := o.Terminate(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if gw.TerminateCalls != 2 || o.State() != cluster.StateTerminated {
		t.Errorf("calls = %d state = %s", gw.TerminateCalls, o.State())
	}
}

func TestDeployUploadFailure(t *testing.T) {
	o, gw, stager, _ := running(t)
	stager.UploadErr = errors.New("access denied")

	staged, err := o.Deploy(context.Background(), "etl.py")
	var te *cluster.TransferError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransferError, got %v", err)
	}
	if staged.URI() != "" {
		t.Errorf("URI = %q, want empty", staged.URI())
	}
	if gw.AddStepsCalls != 0 {
		t.Errorf("AddStepsCalls = %d, want 0", gw.AddStepsCalls)
	}
	if o.State() != cluster.StateRunning {
		t.Errorf("state = %s, want RUNNING", o.State())
	}
}

func TestDeployAddStepsFailure(t *testing.T) {
	o, gw, _, _ := running(t)
	gw.AddStepsErr = errors.New("rejected")

	_, err := o.Deploy(context.Background(), "etl.py")
	var se *cluster.StepSubmissionError
	if !errors.As(err, &se) {
		t.Fatalf("expected StepSubmissionError, got %v", err)
	}
	if se.Handle != "j-ABC123" || len(se.Steps) != 1 {
		t.Errorf("error = %+v", se)
	}
	if o.State() != cluster.StateRunning {
		t.Errorf("state = %s, want RUNNING", o.State())
	}
}

func TestDeployAllOrdering(t *testing.T) {
	ctx := context.Background()
	o, gw, _, _ := running(t)

	staged, err := o.DeployAll(ctx, []string{"a.py", "b.py"})
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 2 || staged[0].Name() != "a.py" || staged[1].Name() != "b.py" {
		t.Fatalf("staged = %+v", staged)
	}
	if staged[0].StageStepID() == "" || staged[0].StageStepID() == staged[1].StageStepID() {
		t.Errorf("stage step ids = %q %q", staged[0].StageStepID(), staged[1].StageStepID())
	}
	if _, err := o.Run(ctx, staged[1]); err != nil {
		t.Fatal(err)
	}

	var order []string
	for _, batch := range gw.Batches {
		for _, s := range batch {
			order = append(order, string(s.Kind)+":"+s.Args[len(s.Args)-1])
		}
	}
	want := []string{"stage:/home/hadoop/a.py", "stage:/home/hadoop/b.py", "execute:/home/hadoop/b.py"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestDeployAllUploadFailure(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*cluster.MockStager)
		wantPath string
		wantErr  error
	}{
		{
			name: "stager names the failing script",
			setup: func(s *cluster.MockStager) {
				s.UploadErr = errors.New("access denied")
				s.FailPath = "b.py"
			},
			wantPath: "b.py",
		},
		{
			name:     "batch failure covers every script",
			setup:    func(s *cluster.MockStager) { s.BatchErr = context.DeadlineExceeded },
			wantPath: "a.py, b.py",
			wantErr:  context.DeadlineExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, gw, stager, _ := running(t)
			tt.setup(stager)

			staged, err := o.DeployAll(context.Background(), []string{"a.py", "b.py"})
			var te *cluster.TransferError
			if !errors.As(err, &te) {
				t.Fatalf("expected TransferError, got %v", err)
			}
			if te.LocalPath != tt.wantPath {
				t.Errorf("LocalPath = %q, want %q", te.LocalPath, tt.wantPath)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
			if staged != nil {
				t.Errorf("staged = %+v, want nil", staged)
			}
			if gw.AddStepsCalls != 0 {
				t.Errorf("AddStepsCalls = %d, want 0", gw.AddStepsCalls)
			}
		})
	}
}

func TestRunRequiresStagedScript(t *testing.T) {
	ctx := context.Background()
	o, gw, _, _ := running(t)

	if _, err := o.Run(ctx, StagedScript{}); !errors.Is(err, cluster.ErrNotStaged) {
		t.Errorf("zero token: expected ErrNotStaged, got %v", err)
	}

	other, _, _, _ := running(t)
	foreign, err := other.Deploy(ctx, "etl.py")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(ctx, foreign); !errors.Is(err, cluster.ErrNotStaged) {
		t.Errorf("foreign token: expected ErrNotStaged, got %v", err)
	}
	if gw.AddStepsCalls != 0 {
		t.Errorf("AddStepsCalls = %d, want 0", gw.AddStepsCalls)
	}
}

func TestRunForwardsArgs(t *testing.T) {
	ctx := context.Background()
	o, gw, _, _ := running(t)
	staged, err := o.Deploy(ctx, "scripts/etl.py")
	if err != nil {
		t.Fatal(err)
	}

	sub, err := o.Run(ctx, staged, "--date", "2020-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if sub.Handle != "j-ABC123" || len(sub.StepIDs) != 1 {
		t.Errorf("submission = %+v", sub)
	}
	args := gw.Batches[1][0].Args
	if args[len(args)-2] != "--date" || args[len(args)-1] != "2020-01-01" {
		t.Errorf("args = %v", args)
	}
}

func TestInvalidStateMakesNoCalls(t *testing.T) {
	ctx := context.Background()

	setups := map[cluster.State]func(t *testing.T) (*Orchestrator, *cluster.MockGateway){
		cluster.StateUnstarted: func(t *testing.T) (*Orchestrator, *cluster.MockGateway) {
			gw := cluster.NewMockGateway("j-1")
			o, _ := newTestOrchestrator(gw, &cluster.MockStager{Bucket: "b"})
			return o, gw
		},
		cluster.StateFailed: func(t *testing.T) (*Orchestrator, *cluster.MockGateway) {
			gw := cluster.NewMockGateway("j-1")
			gw.ProvisionErr = errors.New("nope")
			o, _ := newTestOrchestrator(gw, &cluster.MockStager{Bucket: "b"})
			o.Start(ctx, testSpec())
			return o, gw
		},
		cluster.StateTerminated: func(t *testing.T) (*Orchestrator, *cluster.MockGateway) {
			o, gw, _, _ := running(t)
			if err := o.Terminate(ctx); err != nil {
				t.Fatal(err)
			}
			return o, gw
		},
		cluster.StateTerminating: func(t *testing.T) (*Orchestrator, *cluster.MockGateway) {
			o, gw, _, _ := running(t)
			o.mu.Lock()
			o.state = cluster.StateTerminating
			o.mu.Unlock()
			return o, gw
		},
	}

	for state, setup := range setups {
		t.Run(string(state), func(t *testing.T) {
			o, gw := setup(t)
			if o.State() != state {
				t.Fatalf("setup produced %s", o.State())
			}
			stager := o.stager.(*cluster.MockStager)
			before, uploads := gw.Calls(), stager.UploadCalls

			var ise *cluster.InvalidStateError
			if _, err := o.Deploy(ctx, "etl.py"); !errors.As(err, &ise) {
				t.Errorf("Deploy: expected InvalidStateError, got %v", err)
			}
			if _, err := o.DeployAll(ctx, []string{"etl.py"}); !errors.As(err, &ise) {
				t.Errorf("DeployAll: expected InvalidStateError, got %v", err)
			}
			if _, err := o.Run(ctx, StagedScript{}); !errors.As(err, &ise) {
				t.Errorf("Run: expected InvalidStateError, got %v", err)
			}
			if gw.Calls() != before || stager.UploadCalls != uploads {
				t.Errorf("made %d gateway calls and %d uploads", gw.Calls()-before, stager.UploadCalls-uploads)
			}
		})
	}
}

func TestAttach(t *testing.T) {
	ctx := context.Background()
	gw := cluster.NewMockGateway("j-unused")
	o, _ := newTestOrchestrator(gw, &cluster.MockStager{Bucket: "b"})

	if err := o.Attach(ctx, ""); !errors.Is(err, cluster.ErrUnknownHandle) {
		t.Errorf("empty handle: %v", err)
	}
	if err := o.Attach(ctx, "j-OLD"); err != nil {
		t.Fatal(err)
	}
	if o.State() != cluster.StateRunning || o.Handle() != "j-OLD" {
		t.Errorf("state = %s handle = %s", o.State(), o.Handle())
	}
	if gw.Calls() != 0 {
		t.Errorf("Attach made %d gateway calls", gw.Calls())
	}
	if err := o.Attach(ctx, "j-OTHER"); err == nil {
		t.Error("second Attach should fail")
	}
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	gw := cluster.NewMockGateway("j-1")
	o, _ := newTestOrchestrator(gw, &cluster.MockStager{Bucket: "b"})

	var ise *cluster.InvalidStateError
	if _, err := o.Status(ctx); !errors.As(err, &ise) {
		t.Errorf("expected InvalidStateError before start, got %v", err)
	}
	if _, err := o.Start(ctx, testSpec()); err != nil {
		t.Fatal(err)
	}
	st, err := o.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Ready || st.State != "WAITING" {
		t.Errorf("status = %+v", st)
	}
}

func TestMultiObserver(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	var calls int
	m := MultiObserver{a, nil, b, ObserverFunc(func(context.Context, Event) { calls++ })}

	m.Observe(context.Background(), Event{Type: EventError})
	if a.count(EventError) != 1 || b.count(EventError) != 1 || calls != 1 {
		t.Errorf("fan-out missed an observer")
	}
}
