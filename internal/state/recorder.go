package state

import (
	"context"
	"log/slog"
	"sync"

	"github.com/clusterlift/clusterlift/internal/lifecycle"
)

// Recorder keeps a Session file in step with lifecycle events.
type Recorder struct {
	mu      sync.Mutex
	session *Session
	path    string
	logger  *slog.Logger
}

// NewRecorder writes session to path on every change.
func NewRecorder(session *Session, path string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{session: session, path: path, logger: logger}
}

// Session returns a copy of the current session.
func (r *Recorder) Session() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := *r.session
	s.Scripts = append([]Script(nil), r.session.Scripts...)
	s.Submissions = append([]Submission(nil), r.session.Submissions...)
	return s
}

func (r *Recorder) Observe(_ context.Context, e lifecycle.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session
	switch e.Type {
	case lifecycle.EventTransition:
		s.State = e.To
		if e.Handle != "" {
			s.Handle = string(e.Handle)
		}
	case lifecycle.EventUploaded:
		s.Scripts = append(s.Scripts, Script{
			LocalPath: e.Artifact.LocalPath,
			URI:       e.Artifact.URI,
			Size:      e.Artifact.Size,
		})
	case lifecycle.EventStepsSubmitted:
		s.Submissions = append(s.Submissions, Submission{
			Kind:        e.Kind,
			Steps:       e.StepNames,
			StepIDs:     e.Submission.StepIDs,
			SubmittedAt: e.Time,
		})
	case lifecycle.EventError:
		if e.Err != nil {
			s.LastError = e.Op + ": " + e.Err.Error()
		}
	default:
		return
	}

	if err := s.Save(r.path); err != nil {
		r.logger.Warn("saving session state", "path", r.path, "error", err)
	}
}
