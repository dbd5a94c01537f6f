package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/clusterlift/clusterlift/internal/api"
	awspkg "github.com/clusterlift/clusterlift/internal/aws"
	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/config"
	"github.com/clusterlift/clusterlift/internal/journal"
	"github.com/clusterlift/clusterlift/internal/lifecycle"
	"github.com/clusterlift/clusterlift/internal/lock"
	"github.com/clusterlift/clusterlift/internal/logging"
	"github.com/clusterlift/clusterlift/internal/mq"
	"github.com/clusterlift/clusterlift/internal/state"
	"github.com/clusterlift/clusterlift/internal/telemetry"
	"github.com/clusterlift/clusterlift/internal/ws"
)

const (
	terminateTimeout = 5 * time.Minute
	shutdownTimeout  = 5 * time.Second
)

// loadConfig reads and validates the config file and sets up logging.
func loadConfig(ctx context.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(ctx, cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config invalid: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	logger, err := logging.Setup(level, cfg.Logging.Format, cfg.Logging.Directory)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newGateway loads the SDK config and builds the EMR gateway from the
// aws and gateway sections of cfg.
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (aws.Config, *awspkg.EMRGateway, error) {
	awsCfg, err := awspkg.LoadConfig(ctx, awspkg.Credentials{
		Profile:         cfg.AWS.Profile,
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		SessionToken:    cfg.AWS.SessionToken,
	})
	if err != nil {
		return aws.Config{}, nil, err
	}

	gateway := awspkg.NewEMRGateway(awsCfg, awspkg.GatewayOptions{
		CallTimeout: cfg.Gateway.CallTimeout,
		Retry:       retryPolicy(cfg),
		Logger:      logger,
	})
	return awsCfg, gateway, nil
}

func retryPolicy(cfg *config.Config) awspkg.RetryPolicy {
	return awspkg.RetryPolicy{
		MaxAttempts:     cfg.Gateway.MaxAttempts,
		InitialInterval: cfg.Gateway.InitialInterval,
		MaxInterval:     cfg.Gateway.MaxInterval,
		Multiplier:      2,
	}
}

// session is one command's view of the cluster session: the orchestrator,
// its observers and the on-disk state they keep current.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	orch     *lifecycle.Orchestrator
	recorder *state.Recorder
	metrics  *telemetry.MetricsObserver
	hub      *ws.Hub

	statePath string
	lockPath  string
	closers   []func()
}

// openSession takes the session lock and builds an orchestrator. With
// resume set it attaches to the cluster recorded in the session file;
// otherwise it starts a fresh session and refuses to shadow a live one.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, resume, listen bool) (*session, error) {
	s := &session{
		cfg:       cfg,
		logger:    logger,
		statePath: config.ExpandHome(state.DefaultPath),
		lockPath:  config.ExpandHome(lock.DefaultPath),
	}

	if err := lock.Acquire(s.lockPath); err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return nil, fmt.Errorf("another clusterlift process is driving this session: %w", err)
		}
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	s.closers = append(s.closers, func() {
		if err := lock.Release(s.lockPath); err != nil {
			logger.Warn("releasing lock", "error", err)
		}
	})

	sess, err := s.loadSession(resume)
	if err != nil {
		s.close()
		return nil, err
	}

	awsCfg, gateway, err := newGateway(ctx, cfg, logger)
	if err != nil {
		s.close()
		return nil, err
	}
	stager := awspkg.NewS3Stager(awsCfg, cfg.AWS.Bucket, logger)

	s.recorder = state.NewRecorder(sess, s.statePath, logger)
	s.metrics = telemetry.NewMetricsObserver()
	observers := lifecycle.MultiObserver{
		telemetry.NewLogObserver(logger),
		s.metrics,
		s.recorder,
	}
	observers = append(observers, s.eventSinks(ctx)...)
	if listen {
		s.hub = ws.NewHub(logger)
		observers = append(observers, s.hub)
	}

	s.orch = lifecycle.New(lifecycle.Config{
		Gateway:      gateway,
		Stager:       stager,
		Steps:        cfg.StepBuilder(),
		ScriptPrefix: cfg.Scripts.Prefix,
		Observer:     observers,
		Logger:       logger,
		PollInterval: cfg.Await.PollInterval,
		SessionID:    sess.SessionID,
	})

	if resume {
		if err := s.orch.Attach(ctx, cluster.Handle(sess.Handle)); err != nil {
			s.close()
			return nil, fmt.Errorf("attaching to %s: %w", sess.Handle, err)
		}
	}
	return s, nil
}

func (s *session) loadSession(resume bool) (*state.Session, error) {
	sess, err := state.Load(s.statePath)
	switch {
	case errors.Is(err, state.ErrNoSession):
		if resume {
			return nil, errors.New("no cluster session found; run 'clusterlift provision' first")
		}
	case err != nil:
		return nil, fmt.Errorf("loading session: %w", err)
	case resume && !sess.Active():
		return nil, fmt.Errorf("session %s has no live cluster (state %s)", sess.SessionID, sess.State)
	case resume:
		return sess, nil
	case sess.Active():
		return nil, fmt.Errorf("session %s still owns cluster %s; run 'clusterlift teardown' first", sess.SessionID, sess.Handle)
	}
	return state.New(uuid.NewString(), s.cfg.Cluster.Name), nil
}

// eventSinks connects the optional event publisher and journal. A sink
// that cannot be reached is logged and skipped.
func (s *session) eventSinks(ctx context.Context) []lifecycle.Observer {
	var sinks []lifecycle.Observer
	ev := s.cfg.Events

	if ev.AMQPURL != "" {
		conn, err := mq.Dial(ev.AMQPURL, ev.Exchange, s.logger)
		if err != nil {
			s.logger.Warn("event publishing disabled", "error", err)
		} else {
			sinks = append(sinks, conn.Publisher(ev.Exchange))
			s.closers = append(s.closers, func() { conn.Close() })
		}
	}

	if ev.JournalDSN != "" {
		pool, err := journal.NewPool(ctx, ev.JournalDSN)
		if err != nil {
			s.logger.Warn("event journal disabled", "error", err)
			return sinks
		}
		store := journal.NewStore(pool, s.logger)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("event journal disabled", "error", err)
			pool.Close()
			return sinks
		}
		sinks = append(sinks, store)
		s.closers = append(s.closers, pool.Close)
	}
	return sinks
}

// serve starts the status server on addr. It is a no-op without a hub.
func (s *session) serve(ctx context.Context, addr string) error {
	if s.hub == nil || addr == "" {
		return nil
	}

	hubCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go s.hub.Run(hubCtx)

	srv := api.New(s.orch, s.logger, addr,
		api.WithHub(s.hub),
		api.WithMetrics(s.metrics.Registry()),
	)
	s.hub.SetSnapshot(srv.Snapshot)
	if err := srv.Start(); err != nil {
		cancel()
		return fmt.Errorf("starting status server on %s: %w", addr, err)
	}
	fmt.Printf("Status server: http://%s/api/session\n", addr)

	s.closers = append(s.closers, cancel, func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("status server shutdown", "error", err)
		}
	})
	return nil
}

// terminate tears the cluster down, retrying failed attempts until the
// termination is acknowledged or the cluster is confirmed gone. It runs on
// a context detached from ctx's cancellation so an interrupted run still
// releases its cluster.
func (s *session) terminate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()

	h := s.orch.Handle()
	if h == "" || s.orch.State().IsFinal() {
		return nil
	}
	fmt.Printf("Terminating cluster %s...\n", h)

	var gone bool
	op := func() error {
		err := s.orch.Terminate(ctx)
		if err == nil {
			return nil
		}
		var te *cluster.TerminationError
		if !errors.As(err, &te) {
			return backoff.Permanent(err)
		}
		if st, derr := s.orch.Status(ctx); derr == nil && st.Gone {
			gone = true
			return nil
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("terminate failed, retrying", "cluster", h, "in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, retryPolicy(s.cfg).BackOff(ctx), notify); err != nil {
		return fmt.Errorf("cluster %s may still be running; retry with 'clusterlift teardown': %w", h, err)
	}

	if gone {
		fmt.Printf("  Cluster %s is already shut down.\n", h)
		return state.Remove(s.statePath)
	}
	fmt.Printf("  Cluster %s terminated.\n", h)
	return nil
}

// close writes the metrics textfile and releases resources in reverse
// order of acquisition.
func (s *session) close() {
	if s.metrics != nil && s.cfg.Events.MetricsFile != "" {
		if err := s.metrics.WriteTextfile(config.ExpandHome(s.cfg.Events.MetricsFile)); err != nil {
			s.logger.Warn("metrics export failed", "error", err)
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}
