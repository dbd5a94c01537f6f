package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

// AwaitSteps polls the submitted steps until all of them complete, one of
// them ends unsuccessfully, or timeout elapses. A zero timeout waits until
// ctx is done. Step state changes are emitted as EventStepState.
func (o *Orchestrator) AwaitSteps(ctx context.Context, sub cluster.Submission, timeout time.Duration) error {
	h, err := o.requireRunning("await")
	if err != nil {
		return err
	}
	if sub.Handle != h {
		return fmt.Errorf("await submission for %s on %s: %w", sub.Handle, h, cluster.ErrUnknownHandle)
	}
	if len(sub.StepIDs) == 0 {
		return nil
	}

	pollCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	last := make(map[string]string, len(sub.StepIDs))
	for {
		statuses, err := o.gateway.DescribeSteps(pollCtx, h, sub.StepIDs)
		if err != nil {
			if werr := o.awaitDone(ctx, pollCtx, sub); werr != nil {
				return werr
			}
			o.emitError(ctx, h, "describe_steps", err)
			return fmt.Errorf("polling steps: %w", err)
		}

		done := true
		for _, st := range statuses {
			if last[st.ID] != st.State {
				last[st.ID] = st.State
				o.logger.Debug("step state", "cluster", h, "step", st.ID, "name", st.Name, "state", st.State)
				o.emit(ctx, Event{Type: EventStepState, Handle: h, Step: st})
			}
			if !st.Terminal() {
				done = false
				continue
			}
			if st.State != cluster.StepCompleted {
				return &cluster.StepFailedError{Handle: h, Step: st}
			}
		}
		if done {
			return nil
		}

		timer := time.NewTimer(o.pollInterval)
		select {
		case <-pollCtx.Done():
			timer.Stop()
			return o.awaitDone(ctx, pollCtx, sub)
		case <-timer.C:
		}
	}
}

// awaitDone maps the end of a poll context to an error, or nil if the
// context is still live.
func (o *Orchestrator) awaitDone(parent, pollCtx context.Context, sub cluster.Submission) error {
	if pollCtx.Err() == nil {
		return nil
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", cluster.ErrAwaitTimeout, sub.ID())
	}
	return pollCtx.Err()
}
