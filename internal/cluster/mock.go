package cluster

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"
)

// MockGateway is a test double for the Gateway interface.
type MockGateway struct {
	Handle        Handle
	ProvisionErr  error
	AddStepsErr   error
	TerminateErr  error
	TerminateErrs []error // consumed one per call before TerminateErr applies
	Status        ClusterStatus
	DescribeErr   error
	StepStatuses  map[string]StepStatus
	StepsFunc     func(ids []string) ([]StepStatus, error) // overrides StepStatuses when set

	mu sync.Mutex

	// Track calls
	ProvisionCalls     int
	ProvisionedSpec    *Spec
	AddStepsCalls      int
	Batches            [][]Step
	TerminateCalls     int
	TerminatedHandles  []Handle
	DescribeCalls      int
	DescribeStepsCalls int
	nextStep           int
}

// NewMockGateway returns a gateway that provisions h.
func NewMockGateway(h Handle) *MockGateway {
	return &MockGateway{
		Handle:       h,
		Status:       ClusterStatus{Handle: h, State: "WAITING", Ready: true},
		StepStatuses: make(map[string]StepStatus),
	}
}

func (m *MockGateway) Provision(_ context.Context, spec Spec) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProvisionCalls++
	m.ProvisionedSpec = &spec
	if m.ProvisionErr != nil {
		return "", m.ProvisionErr
	}
	return m.Handle, nil
}

func (m *MockGateway) AddSteps(_ context.Context, h Handle, steps []Step) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddStepsCalls++
	if m.AddStepsErr != nil {
		return Submission{}, m.AddStepsErr
	}
	m.Batches = append(m.Batches, append([]Step(nil), steps...))
	sub := Submission{Handle: h}
	for range steps {
		m.nextStep++
		sub.StepIDs = append(sub.StepIDs, fmt.Sprintf("s-%04d", m.nextStep))
	}
	return sub, nil
}

func (m *MockGateway) Terminate(_ context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TerminateCalls++
	m.TerminatedHandles = append(m.TerminatedHandles, h)
	if len(m.TerminateErrs) > 0 {
		err := m.TerminateErrs[0]
		m.TerminateErrs = m.TerminateErrs[1:]
		return err
	}
	return m.TerminateErr
}

func (m *MockGateway) Describe(_ context.Context, _ Handle) (ClusterStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DescribeCalls++
	return m.Status, m.DescribeErr
}

func (m *MockGateway) DescribeSteps(_ context.Context, _ Handle, ids []string) ([]StepStatus, error) {
	m.mu.Lock()
	m.DescribeStepsCalls++
	fn := m.StepsFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ids)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StepStatus, 0, len(ids))
	for _, id := range ids {
		st, ok := m.StepStatuses[id]
		if !ok {
			st = StepStatus{ID: id, State: StepCompleted}
		}
		out = append(out, st)
	}
	return out, nil
}

// Calls returns the total number of control-plane calls made.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ProvisionCalls + m.AddStepsCalls + m.TerminateCalls + m.DescribeCalls + m.DescribeStepsCalls
}

// MockStager is a test double for the Stager interface.
type MockStager struct {
	Bucket    string
	UploadErr error
	FailPath  string // when set, UploadErr applies to this path only
	BatchErr  error  // returned as-is by UploadAll before any upload

	mu sync.Mutex

	// Track calls
	UploadCalls int
	Uploaded    []string // local paths
}

func (m *MockStager) Upload(_ context.Context, localPath, keyPrefix string) (Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UploadCalls++
	if m.UploadErr != nil && (m.FailPath == "" || m.FailPath == localPath) {
		return Artifact{}, &TransferError{LocalPath: localPath, Err: m.UploadErr}
	}
	m.Uploaded = append(m.Uploaded, localPath)
	key := path.Join(keyPrefix, filepath.Base(localPath))
	return Artifact{
		LocalPath: localPath,
		Key:       key,
		URI:       fmt.Sprintf("s3://%s/%s", m.Bucket, key),
	}, nil
}

func (m *MockStager) UploadAll(ctx context.Context, localPaths []string, keyPrefix string) ([]Artifact, error) {
	if m.BatchErr != nil {
		return nil, m.BatchErr
	}
	out := make([]Artifact, 0, len(localPaths))
	for _, p := range localPaths {
		a, err := m.Upload(ctx, p, keyPrefix)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
