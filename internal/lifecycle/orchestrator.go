package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

// SessionTag is added to every provisioned cluster so it can be traced back
// to the session that created it.
const SessionTag = "clusterlift:session"

const (
	// DefaultScriptPrefix is the key prefix scripts are staged under when
	// Config.ScriptPrefix is empty.
	DefaultScriptPrefix = "scripts"
	// DefaultPollInterval is how often AwaitSteps polls step status when
	// Config.PollInterval is not positive.
	DefaultPollInterval = 15 * time.Second
)

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Gateway      cluster.Gateway
	Stager       cluster.Stager
	Steps        cluster.StepBuilder
	ScriptPrefix string
	Observer     Observer
	Logger       *slog.Logger
	PollInterval time.Duration
	SessionID    string
}

// Orchestrator drives one cluster session: provision, stage, submit,
// terminate. Lifecycle operations must be serialized by the caller; the
// accessors may be called from any goroutine.
type Orchestrator struct {
	gateway      cluster.Gateway
	stager       cluster.Stager
	steps        cluster.StepBuilder
	scriptPrefix string
	observer     Observer
	logger       *slog.Logger
	pollInterval time.Duration
	sessionID    string

	mu     sync.Mutex
	state  cluster.State
	handle cluster.Handle
}

// New creates an orchestrator in the UNSTARTED state.
func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		gateway:      cfg.Gateway,
		stager:       cfg.Stager,
		steps:        cfg.Steps,
		scriptPrefix: cfg.ScriptPrefix,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
		pollInterval: cfg.PollInterval,
		sessionID:    cfg.SessionID,
		state:        cluster.StateUnstarted,
	}
	if o.steps.RunnerJar == "" && o.steps.StagingDir == "" {
		o.steps = cluster.NewStepBuilder()
	}
	if o.scriptPrefix == "" {
		o.scriptPrefix = DefaultScriptPrefix
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.sessionID == "" {
		o.sessionID = uuid.NewString()
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() cluster.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Handle returns the cluster handle, or "" if none exists.
func (o *Orchestrator) Handle() cluster.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handle
}

// SessionID identifies this session in events and cluster tags.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Start provisions a cluster from spec. It is only valid once per
// orchestrator. Provisioning failures are never retried because a retry may
// create a duplicate cluster.
func (o *Orchestrator) Start(ctx context.Context, spec cluster.Spec) (cluster.Handle, error) {
	if err := o.transition(ctx, "start", cluster.StateUnstarted, cluster.StateProvisioning, ""); err != nil {
		return "", err
	}

	if err := spec.Validate(); err != nil {
		o.transition(ctx, "start", cluster.StateProvisioning, cluster.StateFailed, "")
		o.emitError(ctx, "", "start", err)
		return "", &cluster.ProvisionError{Cluster: spec.Name, Err: err}
	}

	spec.Tags = maps.Clone(spec.Tags)
	if spec.Tags == nil {
		spec.Tags = make(map[string]string, 1)
	}
	spec.Tags[SessionTag] = o.sessionID

	o.logger.Info("provisioning cluster",
		"name", spec.Name,
		"release", spec.ReleaseLabel,
		"instances", spec.InstanceCount,
		"session", o.sessionID,
	)
	h, err := o.gateway.Provision(ctx, spec)
	if err != nil {
		o.transition(ctx, "start", cluster.StateProvisioning, cluster.StateFailed, "")
		o.emitError(ctx, "", "provision", err)
		return "", &cluster.ProvisionError{Cluster: spec.Name, Err: err}
	}

	o.transition(ctx, "start", cluster.StateProvisioning, cluster.StateRunning, h)
	return h, nil
}

// Attach adopts a cluster provisioned by an earlier session, moving an
// UNSTARTED orchestrator straight to RUNNING without calling the gateway.
func (o *Orchestrator) Attach(ctx context.Context, h cluster.Handle) error {
	if h == "" {
		return fmt.Errorf("attach: %w", cluster.ErrUnknownHandle)
	}
	return o.transition(ctx, "attach", cluster.StateUnstarted, cluster.StateRunning, h)
}

// Deploy uploads the script at localPath and queues a step that copies it
// onto the cluster. Failures leave the cluster RUNNING; nothing is torn down.
func (o *Orchestrator) Deploy(ctx context.Context, localPath string) (StagedScript, error) {
	h, err := o.requireRunning("deploy")
	if err != nil {
		return StagedScript{}, err
	}

	artifact, err := o.stager.Upload(ctx, localPath, o.scriptPrefix)
	if err != nil {
		o.emitError(ctx, h, "upload", err)
		return StagedScript{}, asTransferError(localPath, err)
	}
	o.emit(ctx, Event{Type: EventUploaded, Handle: h, Artifact: artifact})

	staged, err := o.stage(ctx, h, []cluster.Artifact{artifact})
	if err != nil {
		return StagedScript{}, err
	}
	return staged[0], nil
}

// DeployAll uploads every script concurrently, then queues all staging steps
// in one batch in input order.
func (o *Orchestrator) DeployAll(ctx context.Context, localPaths []string) ([]StagedScript, error) {
	h, err := o.requireRunning("deploy")
	if err != nil {
		return nil, err
	}
	if len(localPaths) == 0 {
		return nil, nil
	}

	artifacts, err := o.stager.UploadAll(ctx, localPaths, o.scriptPrefix)
	if err != nil {
		o.emitError(ctx, h, "upload", err)
		return nil, asTransferError(strings.Join(localPaths, ", "), err)
	}
	for _, a := range artifacts {
		o.emit(ctx, Event{Type: EventUploaded, Handle: h, Artifact: a})
	}
	return o.stage(ctx, h, artifacts)
}

func (o *Orchestrator) stage(ctx context.Context, h cluster.Handle, artifacts []cluster.Artifact) ([]StagedScript, error) {
	steps := make([]cluster.Step, 0, len(artifacts))
	staged := make([]StagedScript, 0, len(artifacts))
	for _, a := range artifacts {
		name := filepath.Base(a.LocalPath)
		dest := o.steps.DestPath(name)
		steps = append(steps, o.steps.StageStep(a.URI, dest))
		staged = append(staged, StagedScript{
			name:     name,
			artifact: a,
			destPath: dest,
			handle:   h,
			owner:    o,
		})
	}

	sub, err := o.submit(ctx, h, cluster.KindStage, steps)
	if err != nil {
		return nil, err
	}
	for i := range staged {
		staged[i].stageStepID = stepID(sub, i)
	}
	return staged, nil
}

// Run queues a step that executes a script previously staged by Deploy on
// this cluster. It returns as soon as the control plane accepts the step.
func (o *Orchestrator) Run(ctx context.Context, script StagedScript, args ...string) (cluster.Submission, error) {
	h, err := o.requireRunning("run")
	if err != nil {
		return cluster.Submission{}, err
	}
	if script.owner != o || script.handle != h {
		return cluster.Submission{}, fmt.Errorf("run %q: %w", script.name, cluster.ErrNotStaged)
	}

	step := o.steps.ExecuteStep(script.destPath, args...)
	return o.submit(ctx, h, cluster.KindExecute, []cluster.Step{step})
}

func (o *Orchestrator) submit(ctx context.Context, h cluster.Handle, kind cluster.StepKind, steps []cluster.Step) (cluster.Submission, error) {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}

	sub, err := o.gateway.AddSteps(ctx, h, steps)
	if err != nil {
		o.emitError(ctx, h, "add_steps", err)
		return cluster.Submission{}, &cluster.StepSubmissionError{Handle: h, Steps: names, Err: err}
	}

	o.logger.Info("steps submitted", "cluster", h, "kind", kind, "steps", names, "ids", sub.StepIDs)
	o.emit(ctx, Event{
		Type:       EventStepsSubmitted,
		Handle:     h,
		Kind:       kind,
		StepNames:  names,
		Submission: sub,
	})
	return sub, nil
}

// Terminate tears the cluster down. It is a no-op on a session that never
// got a handle (FAILED) or is already terminating or terminated. If the
// request fails the session returns to RUNNING so the caller can retry.
func (o *Orchestrator) Terminate(ctx context.Context) error {
	o.mu.Lock()
	state, h := o.state, o.handle
	switch state {
	case cluster.StateTerminating, cluster.StateTerminated, cluster.StateFailed:
		o.mu.Unlock()
		return nil
	case cluster.StateRunning:
		o.state = cluster.StateTerminating
		o.mu.Unlock()
	default:
		o.mu.Unlock()
		return &cluster.InvalidStateError{Op: "terminate", State: state}
	}
	o.emitTransition(ctx, h, cluster.StateRunning, cluster.StateTerminating)

	if err := o.gateway.Terminate(ctx, h); err != nil {
		o.transition(ctx, "terminate", cluster.StateTerminating, cluster.StateRunning, h)
		o.emitError(ctx, h, "terminate", err)
		return &cluster.TerminationError{Handle: h, Err: err}
	}

	o.transition(ctx, "terminate", cluster.StateTerminating, cluster.StateTerminated, h)
	return nil
}

// Status describes the session's cluster. Use it to confirm a cluster is
// gone after a failed termination.
func (o *Orchestrator) Status(ctx context.Context) (cluster.ClusterStatus, error) {
	o.mu.Lock()
	state, h := o.state, o.handle
	o.mu.Unlock()
	if !state.HasHandle() {
		return cluster.ClusterStatus{}, &cluster.InvalidStateError{Op: "status", State: state}
	}
	status, err := o.gateway.Describe(ctx, h)
	if err != nil {
		o.emitError(ctx, h, "describe", err)
		return cluster.ClusterStatus{}, err
	}
	return status, nil
}

func (o *Orchestrator) requireRunning(op string) (cluster.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != cluster.StateRunning {
		return "", &cluster.InvalidStateError{Op: op, State: o.state}
	}
	return o.handle, nil
}

// transition moves from -> to and emits the change. A non-empty h replaces
// the stored handle.
func (o *Orchestrator) transition(ctx context.Context, op string, from, to cluster.State, h cluster.Handle) error {
	o.mu.Lock()
	if o.state != from || !from.CanTransition(to) {
		state := o.state
		o.mu.Unlock()
		return &cluster.InvalidStateError{Op: op, State: state}
	}
	o.state = to
	if h != "" {
		o.handle = h
	}
	h = o.handle
	o.mu.Unlock()

	o.emitTransition(ctx, h, from, to)
	return nil
}

func (o *Orchestrator) emitTransition(ctx context.Context, h cluster.Handle, from, to cluster.State) {
	o.logger.Info("cluster state changed", "cluster", h, "from", from, "to", to, "session", o.sessionID)
	o.emit(ctx, Event{Type: EventTransition, Handle: h, From: from, To: to})
}

func (o *Orchestrator) emitError(ctx context.Context, h cluster.Handle, op string, err error) {
	o.emit(ctx, Event{Type: EventError, Handle: h, Op: op, Err: err})
}

func (o *Orchestrator) emit(ctx context.Context, e Event) {
	e.ID = uuid.NewString()
	e.SessionID = o.sessionID
	e.Time = time.Now().UTC()
	o.observer.Observe(ctx, e)
}

// asTransferError passes a stager's TransferError through untouched and
// otherwise attributes err to localPath, which may list a whole batch.
func asTransferError(localPath string, err error) error {
	var te *cluster.TransferError
	if errors.As(err, &te) {
		return err
	}
	return &cluster.TransferError{LocalPath: localPath, Err: err}
}

func stepID(sub cluster.Submission, i int) string {
	if i < len(sub.StepIDs) {
		return sub.StepIDs[i]
	}
	return ""
}
