package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/config"
)

const DefaultPath = config.HomeDir + "/session.yaml"

// ErrNoSession means no session file exists yet.
var ErrNoSession = errors.New("no cluster session recorded")

// Session is the persisted record of the current cluster session, so that
// separate CLI invocations can act on the same cluster.
type Session struct {
	SessionID   string        `yaml:"session_id"`
	ClusterName string        `yaml:"cluster_name,omitempty"`
	Handle      string        `yaml:"handle,omitempty"`
	State       cluster.State `yaml:"state"`
	StartedAt   time.Time     `yaml:"started_at"`
	LastUpdated time.Time     `yaml:"last_updated"`
	Scripts     []Script      `yaml:"scripts,omitempty"`
	Submissions []Submission  `yaml:"submissions,omitempty"`
	LastError   string        `yaml:"last_error,omitempty"`
}

// Script records an uploaded script.
type Script struct {
	LocalPath string `yaml:"local_path"`
	URI       string `yaml:"uri"`
	Size      int64  `yaml:"size,omitempty"`
}

// Submission records a batch of steps accepted by the control plane.
type Submission struct {
	Kind        cluster.StepKind `yaml:"kind"`
	Steps       []string         `yaml:"steps"`
	StepIDs     []string         `yaml:"step_ids"`
	SubmittedAt time.Time        `yaml:"submitted_at"`
}

// New creates a fresh session.
func New(sessionID, clusterName string) *Session {
	now := time.Now()
	return &Session{
		SessionID:   sessionID,
		ClusterName: clusterName,
		State:       cluster.StateUnstarted,
		StartedAt:   now,
		LastUpdated: now,
	}
}

// Load reads the session from disk. It returns ErrNoSession if the file
// does not exist.
func Load(path string) (*Session, error) {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}

	s := &Session{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing session: %w", err)
	}
	if _, ok := cluster.ParseState(string(s.State)); !ok {
		return nil, fmt.Errorf("parsing session: unknown state %q", s.State)
	}
	return s, nil
}

// Save writes the session to disk atomically.
func (s *Session) Save(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}

	s.LastUpdated = time.Now()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing session: %w", err)
	}
	return os.Rename(tmp, path)
}

// Remove deletes the session file. A missing file is not an error.
func Remove(path string) error {
	if path == "" {
		path = config.ExpandHome(DefaultPath)
	}
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Active reports whether the session may still own a live cluster.
func (s *Session) Active() bool {
	return s.Handle != "" && (s.State == cluster.StateRunning || s.State == cluster.StateTerminating)
}

// LastSubmission returns the most recent submission of the given kind, or
// of any kind if kind is empty.
func (s *Session) LastSubmission(kind cluster.StepKind) (Submission, bool) {
	for i := len(s.Submissions) - 1; i >= 0; i-- {
		if kind == "" || s.Submissions[i].Kind == kind {
			return s.Submissions[i], true
		}
	}
	return Submission{}, false
}
