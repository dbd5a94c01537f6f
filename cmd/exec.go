package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	execWait   bool
	execListen string
)

var execCmd = &cobra.Command{
	Use:   "exec <script> [args...]",
	Short: "Stage and run a script on the provisioned cluster",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logger, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		listen := execListen
		if listen == "" && execWait {
			listen = cfg.Events.ListenAddr
		}

		s, err := openSession(ctx, cfg, logger, true, listen != "")
		if err != nil {
			return err
		}
		defer s.close()
		if err := s.serve(ctx, listen); err != nil {
			return err
		}

		fmt.Printf("Cluster %s\n", s.orch.Handle())
		return runScript(ctx, s, args[0], args[1:], execWait)
	},
}

func init() {
	execCmd.Flags().SetInterspersed(false)
	execCmd.Flags().BoolVar(&execWait, "wait", false, "wait for the step to finish")
	execCmd.Flags().StringVar(&execListen, "listen", "", "serve session status, events and metrics on this address")
	rootCmd.AddCommand(execCmd)
}
