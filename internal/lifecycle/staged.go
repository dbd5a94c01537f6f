package lifecycle

import "github.com/clusterlift/clusterlift/internal/cluster"

// StagedScript proves a script was uploaded and its staging step queued on a
// particular cluster. Only Deploy can produce a usable one; the zero value is
// rejected by Run.
type StagedScript struct {
	name        string
	artifact    cluster.Artifact
	destPath    string
	handle      cluster.Handle
	stageStepID string
	owner       *Orchestrator
}

// Name is the script's base file name.
func (s StagedScript) Name() string { return s.name }

// URI is the durable location the script was uploaded to.
func (s StagedScript) URI() string { return s.artifact.URI }

// Artifact returns the upload record.
func (s StagedScript) Artifact() cluster.Artifact { return s.artifact }

// DestPath is where the staging step places the script on the cluster.
func (s StagedScript) DestPath() string { return s.destPath }

// Handle is the cluster the script was staged on.
func (s StagedScript) Handle() cluster.Handle { return s.handle }

// StageStepID is the control-plane ID of the staging step.
func (s StagedScript) StageStepID() string { return s.stageStepID }
