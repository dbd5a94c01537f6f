package lifecycle

import (
	"context"
	"time"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventTransition     EventType = "transition"
	EventUploaded       EventType = "artifact.uploaded"
	EventStepsSubmitted EventType = "steps.submitted"
	EventStepState      EventType = "step.state"
	EventError          EventType = "error"
)

// Event is emitted to the observer whenever the session changes or a
// control-plane interaction completes.
type Event struct {
	ID        string
	SessionID string
	Type      EventType
	Time      time.Time
	Handle    cluster.Handle

	// EventTransition
	From cluster.State
	To   cluster.State

	// EventUploaded
	Artifact cluster.Artifact

	// EventStepsSubmitted
	Kind       cluster.StepKind
	StepNames  []string
	Submission cluster.Submission

	// EventStepState
	Step cluster.StepStatus

	// EventError
	Op  string
	Err error
}

// Observer receives lifecycle events. Observe must not block for long and
// must not call back into the orchestrator.
type Observer interface {
	Observe(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, e Event)

func (f ObserverFunc) Observe(ctx context.Context, e Event) { f(ctx, e) }

// MultiObserver fans an event out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) Observe(ctx context.Context, e Event) {
	for _, o := range m {
		if o != nil {
			o.Observe(ctx, e)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(context.Context, Event) {}

// Record is the serializable form of an Event, shared by every observer
// that ships events off-process.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Type        string    `json:"type"`
	Time        time.Time `json:"time"`
	Handle      string    `json:"handle,omitempty"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to,omitempty"`
	ArtifactURI string    `json:"artifact_uri,omitempty"`
	Kind        string    `json:"kind,omitempty"`
	Steps       []string  `json:"steps,omitempty"`
	StepIDs     []string  `json:"step_ids,omitempty"`
	StepID      string    `json:"step_id,omitempty"`
	StepState   string    `json:"step_state,omitempty"`
	Op          string    `json:"op,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`
}

// Record flattens e for serialization.
func (e Event) Record() Record {
	r := Record{
		ID:          e.ID,
		SessionID:   e.SessionID,
		Type:        string(e.Type),
		Time:        e.Time,
		Handle:      string(e.Handle),
		From:        string(e.From),
		To:          string(e.To),
		ArtifactURI: e.Artifact.URI,
		Kind:        string(e.Kind),
		Steps:       e.StepNames,
		StepIDs:     e.Submission.StepIDs,
		StepID:      e.Step.ID,
		StepState:   e.Step.State,
		Op:          e.Op,
	}
	if e.Err != nil {
		r.Error = e.Err.Error()
		r.ErrorKind = cluster.KindOf(e.Err).String()
	}
	return r
}
