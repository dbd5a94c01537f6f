package cluster

import (
	"errors"
	"fmt"
)

// Classification sentinels. Gateway and lifecycle errors wrap one of these
// so callers can branch with errors.Is.
var (
	ErrAuth          = errors.New("control plane rejected credentials")
	ErrQuotaExceeded = errors.New("control plane quota exceeded")
	ErrInvalidSpec   = errors.New("invalid cluster spec")
	ErrUnknownHandle = errors.New("unknown cluster handle")
	ErrTransient     = errors.New("transient control plane failure")

	ErrNotStaged    = errors.New("script was not staged on this cluster")
	ErrAwaitTimeout = errors.New("timed out waiting for steps")
)

// ErrorKind classifies a control-plane failure.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindAuth
	KindQuota
	KindInvalidSpec
	KindUnknownHandle
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindQuota:
		return "quota"
	case KindInvalidSpec:
		return "invalid_spec"
	case KindUnknownHandle:
		return "unknown_handle"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAuth:
		return ErrAuth
	case KindQuota:
		return ErrQuotaExceeded
	case KindInvalidSpec:
		return ErrInvalidSpec
	case KindUnknownHandle:
		return ErrUnknownHandle
	case KindTransient:
		return ErrTransient
	}
	return nil
}

// GatewayError is a control-plane failure mapped into the uniform taxonomy.
type GatewayError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() []error {
	if s := e.Kind.sentinel(); s != nil {
		return []error{s, e.Err}
	}
	return []error{e.Err}
}

// Transient reports whether the failure is network-class and safe to retry
// for idempotent calls.
func (e *GatewayError) Transient() bool { return e.Kind == KindTransient }

// KindOf returns the taxonomy kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var gw *GatewayError
	if errors.As(err, &gw) {
		return gw.Kind
	}
	return KindUnknown
}

// ProvisionError means the control plane rejected or failed a provisioning
// request. No cluster exists and no cleanup is owed.
type ProvisionError struct {
	Cluster string
	Err     error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provisioning cluster %q: %v", e.Cluster, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// TransferError means an artifact upload failed. No URI is valid for it.
type TransferError struct {
	LocalPath string
	Err       error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("uploading %s: %v", e.LocalPath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// StepSubmissionError means the control plane did not accept a step batch.
// The cluster is left running.
type StepSubmissionError struct {
	Handle Handle
	Steps  []string
	Err    error
}

func (e *StepSubmissionError) Error() string {
	return fmt.Sprintf("submitting %d step(s) to %s: %v", len(e.Steps), e.Handle, e.Err)
}

func (e *StepSubmissionError) Unwrap() error { return e.Err }

// TerminationError means a termination request failed. The caller must retry
// until it succeeds or Describe confirms the cluster is gone.
type TerminationError struct {
	Handle Handle
	Err    error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminating %s: %v", e.Handle, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }

// InvalidStateError means an operation was invoked outside its valid state.
// It is always a caller bug.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is not valid in state %s", e.Op, e.State)
}

// StepFailedError reports a step that reached a non-successful terminal state.
type StepFailedError struct {
	Handle Handle
	Step   StepStatus
}

func (e *StepFailedError) Error() string {
	msg := fmt.Sprintf("step %s (%s) on %s ended %s", e.Step.ID, e.Step.Name, e.Handle, e.Step.State)
	if e.Step.Message != "" {
		msg += ": " + e.Step.Message
	}
	return msg
}
