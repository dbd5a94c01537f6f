package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clusterlift/clusterlift/internal/cluster"
	"github.com/clusterlift/clusterlift/internal/config"
)

var (
	liftNoWait        bool
	liftKeepOnFailure bool
	liftListen        string
)

var liftCmd = &cobra.Command{
	Use:   "lift <script> [args...]",
	Short: "Provision a cluster, run one script and tear the cluster down",
	Long: `Provision a cluster, stage the script through S3, submit it as a Spark step,
wait for it to finish and terminate the cluster.

The cluster is terminated on every exit path, including Ctrl-C, unless
--keep-on-failure is set and the run failed.

With --no-wait the cluster is provisioned to shut itself down once its last
step ends, and lift returns as soon as the step is queued. The session stays
recorded until 'clusterlift teardown' closes it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logger, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		listen := liftListen
		if listen == "" {
			listen = cfg.Events.ListenAddr
		}

		s, err := openSession(ctx, cfg, logger, false, listen != "")
		if err != nil {
			return err
		}
		defer s.close()
		if err := s.serve(ctx, listen); err != nil {
			return err
		}

		fmt.Printf("Provisioning cluster %s (%s, %d x %s)...\n",
			cfg.Cluster.Name, cfg.Cluster.ReleaseLabel, cfg.Cluster.InstanceCount, cfg.Cluster.CoreInstanceType)
		spec, terminate := liftSpec(cfg, liftNoWait)
		h, err := s.orch.Start(ctx, spec)
		if err != nil {
			return fmt.Errorf("provisioning: %w", err)
		}
		fmt.Printf("  Cluster: %s\n", h)

		runErr := runScript(ctx, s, args[0], args[1:], !liftNoWait)
		if runErr != nil && liftKeepOnFailure {
			fmt.Printf("Leaving cluster %s running for inspection; remove it with 'clusterlift teardown'.\n", h)
			return runErr
		}
		if runErr == nil && !terminate {
			fmt.Printf("Cluster %s shuts down after its last step; check it with 'clusterlift status'.\n", h)
			return nil
		}
		if err := s.terminate(ctx); err != nil {
			return errors.Join(runErr, err)
		}
		return runErr
	},
}

// liftSpec returns the spec lift provisions and whether lift terminates the
// cluster itself once the script has been handled. Without waiting, an
// explicit terminate would cancel the queued step, so the cluster is left to
// auto-terminate instead.
func liftSpec(cfg *config.Config, noWait bool) (cluster.Spec, bool) {
	spec := cfg.ClusterSpec()
	if noWait {
		spec.KeepAlive = false
		return spec, false
	}
	return spec, true
}

// runScript deploys and runs one script on the session's cluster and
// optionally waits for the job step to finish.
func runScript(ctx context.Context, s *session, script string, scriptArgs []string, wait bool) error {
	staged, err := s.orch.Deploy(ctx, s.cfg.ScriptPath(script))
	if err != nil {
		return fmt.Errorf("deploying %s: %w", script, err)
	}
	fmt.Printf("  Staged %s -> %s\n", staged.URI(), staged.DestPath())

	sub, err := s.orch.Run(ctx, staged, scriptArgs...)
	if err != nil {
		return fmt.Errorf("submitting %s: %w", staged.Name(), err)
	}
	fmt.Printf("  Submitted step %s\n", sub.ID())

	if !wait {
		return nil
	}
	fmt.Printf("Waiting for %s...\n", staged.Name())
	if err := s.orch.AwaitSteps(ctx, sub, s.cfg.Await.Timeout); err != nil {
		return fmt.Errorf("running %s: %w", staged.Name(), err)
	}
	fmt.Printf("  %s completed.\n", staged.Name())
	return nil
}

func init() {
	liftCmd.Flags().SetInterspersed(false)
	liftCmd.Flags().BoolVar(&liftNoWait, "no-wait", false, "return once the step is queued; the cluster shuts down after its last step")
	liftCmd.Flags().BoolVar(&liftKeepOnFailure, "keep-on-failure", false, "leave the cluster running if the script fails")
	liftCmd.Flags().StringVar(&liftListen, "listen", "", "serve session status, events and metrics on this address")
	rootCmd.AddCommand(liftCmd)
}
