package telemetry

import (
	"context"
	"log/slog"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/lifecycle"
)

// LogObserver writes lifecycle events to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver. A nil logger uses slog.Default.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger}
}

func (l *LogObserver) Observe(ctx context.Context, e lifecycle.Event) {
	log := l.logger.With("session", e.SessionID)
	if e.Handle != "" {
		log = log.With("cluster", e.Handle)
	}

	switch e.Type {
	case lifecycle.EventTransition:
		msg := "cluster " + string(e.To)
		switch e.To {
		case cluster.StateTerminating:
			msg = "terminating cluster"
		case cluster.StateTerminated:
			msg = "cluster terminated"
		case cluster.StateRunning:
			if e.From == cluster.StateTerminating {
				msg = "termination failed, cluster still running"
			} else {
				msg = "cluster running"
			}
		case cluster.StateFailed:
			msg = "cluster provisioning failed"
		}
		level := slog.LevelInfo
		if e.To == cluster.StateFailed || e.From == cluster.StateTerminating && e.To == cluster.StateRunning {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, msg, "from", e.From, "to", e.To)

	case lifecycle.EventUploaded:
		log.Info("script uploaded", "local", e.Artifact.LocalPath, "uri", e.Artifact.URI)

	case lifecycle.EventStepsSubmitted:
		log.Info("steps queued", "kind", e.Kind, "steps", e.StepNames, "ids", e.Submission.StepIDs)

	case lifecycle.EventStepState:
		level := slog.LevelDebug
		if e.Step.Terminal() {
			level = slog.LevelInfo
		}
		if e.Step.State == cluster.StepFailed {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "step "+e.Step.State, "step", e.Step.ID, "name", e.Step.Name, "message", e.Step.Message)

	case lifecycle.EventError:
		log.Error("control plane operation failed", "op", e.Op, "kind", cluster.KindOf(e.Err), "error", e.Err)
	}
}
