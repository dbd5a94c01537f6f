package cluster

import (
	"path"
	"slices"
)

// ActionOnFailure tells the control plane what to do when a step fails.
type ActionOnFailure string

const (
	// CancelAndWait cancels the remaining queued steps and keeps the cluster alive.
	CancelAndWait    ActionOnFailure = "CANCEL_AND_WAIT"
	Continue         ActionOnFailure = "CONTINUE"
	TerminateCluster ActionOnFailure = "TERMINATE_CLUSTER"
)

// Valid reports whether a is one of the known failure policies.
func (a ActionOnFailure) Valid() bool {
	switch a {
	case CancelAndWait, Continue, TerminateCluster:
		return true
	}
	return false
}

// StepKind distinguishes staging steps from job steps.
type StepKind string

const (
	KindStage   StepKind = "stage"
	KindExecute StepKind = "execute"
)

// Step is one queued unit of work for a running cluster.
type Step struct {
	Name            string
	Kind            StepKind
	ActionOnFailure ActionOnFailure
	Jar             string
	Args            []string
}

const (
	DefaultRunnerJar  = "command-runner.jar"
	DefaultStagingDir = "/home/hadoop"
)

// StepBuilder produces the staging and execution steps for a script.
// All methods are pure: the same inputs always yield an identical Step.
type StepBuilder struct {
	RunnerJar  string
	StagingDir string
	SubmitArgs []string // extra spark-submit flags placed before the script path
	OnFailure  ActionOnFailure
}

// NewStepBuilder returns a builder with the EMR command-runner defaults.
func NewStepBuilder() StepBuilder {
	return StepBuilder{
		RunnerJar:  DefaultRunnerJar,
		StagingDir: DefaultStagingDir,
		OnFailure:  CancelAndWait,
	}
}

// DestPath is where a script named name lands on the cluster.
func (b StepBuilder) DestPath(name string) string {
	dir := b.StagingDir
	if dir == "" {
		dir = DefaultStagingDir
	}
	return path.Join(dir, path.Base(name))
}

// StageStep copies the object at uri to destPath on the cluster.
func (b StepBuilder) StageStep(uri, destPath string) Step {
	return Step{
		Name:            "Load script " + path.Base(destPath) + " into cluster",
		Kind:            KindStage,
		ActionOnFailure: b.onFailure(),
		Jar:             b.jar(),
		Args:            []string{"aws", "s3", "cp", uri, destPath},
	}
}

// ExecuteStep submits the staged script at destPath as a Spark job.
func (b StepBuilder) ExecuteStep(destPath string, args ...string) Step {
	cmd := make([]string, 0, 2+len(b.SubmitArgs)+len(args))
	cmd = append(cmd, "spark-submit")
	cmd = append(cmd, b.SubmitArgs...)
	cmd = append(cmd, destPath)
	cmd = append(cmd, args...)
	return Step{
		Name:            "Run Spark job " + path.Base(destPath),
		Kind:            KindExecute,
		ActionOnFailure: b.onFailure(),
		Jar:             b.jar(),
		Args:            cmd,
	}
}

func (b StepBuilder) jar() string {
	if b.RunnerJar == "" {
		return DefaultRunnerJar
	}
	return b.RunnerJar
}

func (b StepBuilder) onFailure() ActionOnFailure {
	if !b.OnFailure.Valid() {
		return CancelAndWait
	}
	return b.OnFailure
}

// Equal reports whether two steps describe the same action.
func (s Step) Equal(o Step) bool {
	return s.Name == o.Name &&
		s.Kind == o.Kind &&
		s.ActionOnFailure == o.ActionOnFailure &&
		s.Jar == o.Jar &&
		slices.Equal(s.Args, o.Args)
}
