package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clusterlift/clusterlift/internal/cluster"
)

var (
	awaitTimeout time.Duration
	awaitKind    string
)

var awaitCmd = &cobra.Command{
	Use:   "await",
	Short: "Wait for the most recently submitted steps to finish",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logger, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		s, err := openSession(ctx, cfg, logger, true, false)
		if err != nil {
			return err
		}
		defer s.close()

		sess := s.recorder.Session()
		last, ok := sess.LastSubmission(cluster.StepKind(awaitKind))
		if !ok {
			return errors.New("no steps have been submitted in this session")
		}

		timeout := awaitTimeout
		if timeout == 0 {
			timeout = cfg.Await.Timeout
		}

		sub := cluster.Submission{Handle: s.orch.Handle(), StepIDs: last.StepIDs}
		fmt.Printf("Waiting for %d step(s) on %s...\n", len(sub.StepIDs), sub.Handle)
		if err := s.orch.AwaitSteps(ctx, sub, timeout); err != nil {
			var sf *cluster.StepFailedError
			if errors.As(err, &sf) {
				fmt.Printf("  %s %s: %s\n", sf.Step.Name, sf.Step.State, sf.Step.Message)
			}
			return err
		}
		fmt.Println("  All steps completed.")
		return nil
	},
}

func init() {
	awaitCmd.Flags().DurationVar(&awaitTimeout, "timeout", 0, "give up after this long (default: await.timeout, 0 waits forever)")
	awaitCmd.Flags().StringVar(&awaitKind, "kind", string(cluster.KindExecute), "submission kind to wait for (stage, execute, or empty for the latest)")
	rootCmd.AddCommand(awaitCmd)
}
