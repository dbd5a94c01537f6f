package cmd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/config"
	"github.com/clusterlift/clusterlift/internal/lifecycle"
	"github.com/clusterlift/clusterlift/internal/state"
)

func terminateSession(t *testing.T, gw *cluster.MockGateway) *session {
	t.Helper()
	cfg := config.Default()
	cfg.Cluster.Name = "nightly-etl"
	cfg.Gateway.MaxAttempts = 4
	cfg.Gateway.InitialInterval = time.Millisecond
	cfg.Gateway.MaxInterval = time.Millisecond

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &session{
		cfg:    cfg,
		logger: quiet,
		orch: lifecycle.New(lifecycle.Config{
			Gateway: gw,
			Stager:  &cluster.MockStager{Bucket: "b"},
			Logger:  quiet,
		}),
		statePath: filepath.Join(t.TempDir(), "session.yaml"),
	}
}

func TestSessionTerminate(t *testing.T) {
	unavailable := &cluster.GatewayError{Op: "TerminateJobFlows", Kind: cluster.KindTransient, Err: errors.New("slow down")}

	tests := []struct {
		name         string
		setup        func(*cluster.MockGateway)
		wantErr      bool
		wantCalls    int
		wantState    cluster.State
		wantFileGone bool
	}{
		{
			name: "recovers after transient failures",
			setup: func(gw *cluster.MockGateway) {
				gw.TerminateErrs = []error{unavailable, unavailable}
			},
			wantCalls: 3,
			wantState: cluster.StateTerminated,
		},
		{
			name: "cluster already gone",
			setup: func(gw *cluster.MockGateway) {
				gw.TerminateErr = unavailable
				gw.Status = cluster.ClusterStatus{Handle: "j-ABC123", State: "TERMINATED", Gone: true}
			},
			wantCalls:    1,
			wantState:    cluster.StateRunning,
			wantFileGone: true,
		},
		{
			name: "gives up after max attempts",
			setup: func(gw *cluster.MockGateway) {
				gw.TerminateErr = unavailable
				gw.Status = cluster.ClusterStatus{Handle: "j-ABC123", State: "WAITING", Ready: true}
			},
			wantErr:   true,
			wantCalls: 4,
			wantState: cluster.StateRunning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			gw := cluster.NewMockGateway("j-ABC123")
			tt.setup(gw)
			s := terminateSession(t, gw)

			sess := state.New("11111111-2222-3333-4444-555555555555", "nightly-etl")
			sess.Handle = "j-ABC123"
			sess.State = cluster.StateRunning
			if err := sess.Save(s.statePath); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if err := s.orch.Attach(ctx, "j-ABC123"); err != nil {
				t.Fatalf("Attach: %v", err)
			}

			err := s.terminate(ctx)
			if (err != nil) != tt.wantErr {
				t.Fatalf("terminate error = %v, wantErr %v", err, tt.wantErr)
			}
			if gw.TerminateCalls != tt.wantCalls {
				t.Errorf("TerminateCalls = %d, want %d", gw.TerminateCalls, tt.wantCalls)
			}
			if s.orch.State() != tt.wantState {
				t.Errorf("state = %s, want %s", s.orch.State(), tt.wantState)
			}
			_, statErr := os.Stat(s.statePath)
			if gone := os.IsNotExist(statErr); gone != tt.wantFileGone {
				t.Errorf("session file removed = %v, want %v", gone, tt.wantFileGone)
			}
		})
	}
}

func TestSessionTerminate_NothingToTerminate(t *testing.T) {
	tests := []struct {
		name  string
		setup func(context.Context, *session, *cluster.MockGateway)
	}{
		{
			name:  "unstarted",
			setup: func(context.Context, *session, *cluster.MockGateway) {},
		},
		{
			name: "provisioning failed",
			setup: func(ctx context.Context, s *session, gw *cluster.MockGateway) {
				gw.ProvisionErr = errors.New("vCPU limit")
				spec := cluster.Spec{
					Name:               "nightly-etl",
					ReleaseLabel:       "emr-5.29.0",
					MasterInstanceType: "m5.xlarge",
					CoreInstanceType:   "m5.xlarge",
					InstanceCount:      3,
					Applications:       []string{"Hadoop", "Spark"},
					InstanceRole:       "EMR_EC2_DefaultRole",
					ServiceRole:        "EMR_DefaultRole",
				}
				if _, err := s.orch.Start(ctx, spec); err == nil {
					t.Fatal("Start should fail")
				}
				if s.orch.State() != cluster.StateFailed {
					t.Fatalf("state = %s, want FAILED", s.orch.State())
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			gw := cluster.NewMockGateway("j-ABC123")
			s := terminateSession(t, gw)
			tt.setup(ctx, s, gw)
			before := gw.Calls()

			if err := s.terminate(ctx); err != nil {
				t.Fatalf("terminate: %v", err)
			}
			if n := gw.Calls() - before; n != 0 {
				t.Errorf("terminate made %d gateway calls, want 0", n)
			}
		})
	}
}
