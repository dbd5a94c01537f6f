package cluster

import (
	"context"
	"fmt"
	"strings"
)

// Handle identifies a provisioned cluster (an EMR job flow ID such as "j-ABC123").
type Handle string

// String returns the raw handle value.
func (h Handle) String() string { return string(h) }

// Spec describes the cluster to provision. It is built once before
// provisioning and treated as read-only afterwards.
type Spec struct {
	Name                 string            `yaml:"name"`
	LogURI               string            `yaml:"log_uri,omitempty"`
	ReleaseLabel         string            `yaml:"release_label"`
	MasterInstanceType   string            `yaml:"master_instance_type"`
	CoreInstanceType     string            `yaml:"core_instance_type"`
	InstanceCount        int               `yaml:"instance_count"`
	KeepAlive            bool              `yaml:"keep_alive"`
	TerminationProtected bool              `yaml:"termination_protected"`
	KeyName              string            `yaml:"key_name,omitempty"`
	Applications         []string          `yaml:"applications"`
	VisibleToAllUsers    bool              `yaml:"visible_to_all_users"`
	InstanceRole         string            `yaml:"instance_role"`
	ServiceRole          string            `yaml:"service_role"`
	Tags                 map[string]string `yaml:"tags,omitempty"`
}

// Validate checks the spec for values the control plane would reject outright.
func (s Spec) Validate() error {
	var problems []string
	if strings.TrimSpace(s.Name) == "" {
		problems = append(problems, "name is required")
	}
	if s.ReleaseLabel == "" {
		problems = append(problems, "release label is required")
	}
	if s.MasterInstanceType == "" || s.CoreInstanceType == "" {
		problems = append(problems, "instance types are required")
	}
	if s.InstanceCount < 1 {
		problems = append(problems, fmt.Sprintf("instance count must be at least 1, got %d", s.InstanceCount))
	}
	if s.InstanceRole == "" || s.ServiceRole == "" {
		problems = append(problems, "instance and service roles are required")
	}
	seen := make(map[string]bool, len(s.Applications))
	for _, app := range s.Applications {
		key := strings.ToLower(app)
		if seen[key] {
			problems = append(problems, fmt.Sprintf("application %q listed twice", app))
		}
		seen[key] = true
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSpec, strings.Join(problems, "; "))
	}
	return nil
}

// Artifact is a local file and the durable URI it was uploaded to.
// URI is empty until the upload has succeeded.
type Artifact struct {
	LocalPath string `yaml:"local_path"`
	Key       string `yaml:"key"`
	URI       string `yaml:"uri"`
	Size      int64  `yaml:"size"`
}

// Submission acknowledges a batch of steps accepted into the cluster queue.
type Submission struct {
	Handle  Handle   `yaml:"handle"`
	StepIDs []string `yaml:"step_ids"`
}

// ID returns a stable identifier for the submission.
func (s Submission) ID() string {
	return strings.Join(s.StepIDs, ",")
}

// ClusterStatus is the control plane's view of a cluster.
type ClusterStatus struct {
	Handle  Handle
	State   string // raw control-plane state, e.g. "WAITING"
	Message string
	Ready   bool // accepting and running steps
	Gone    bool // terminated or terminating
}

// StepStatus is the control plane's view of a single submitted step.
type StepStatus struct {
	ID      string
	Name    string
	State   string // PENDING, RUNNING, COMPLETED, CANCELLED, FAILED, INTERRUPTED
	Message string
}

// Terminal reports whether the step will not change state again.
func (s StepStatus) Terminal() bool {
	switch s.State {
	case StepCompleted, StepFailed, StepCancelled, StepInterrupted:
		return true
	}
	return false
}

// Remote step states.
const (
	StepPending     = "PENDING"
	StepRunning     = "RUNNING"
	StepCompleted   = "COMPLETED"
	StepFailed      = "FAILED"
	StepCancelled   = "CANCELLED"
	StepInterrupted = "INTERRUPTED"
)

// Gateway is the control plane as seen by the orchestrator.
type Gateway interface {
	Provision(ctx context.Context, spec Spec) (Handle, error)
	AddSteps(ctx context.Context, h Handle, steps []Step) (Submission, error)
	Terminate(ctx context.Context, h Handle) error
	Describe(ctx context.Context, h Handle) (ClusterStatus, error)
	DescribeSteps(ctx context.Context, h Handle, stepIDs []string) ([]StepStatus, error)
}

// Stager moves local artifacts into durable storage.
type Stager interface {
	Upload(ctx context.Context, localPath, keyPrefix string) (Artifact, error)
	UploadAll(ctx context.Context, localPaths []string, keyPrefix string) ([]Artifact, error)
}
