package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Terminate the session's cluster",
	Long: `Terminate the cluster recorded in the current session. Failed attempts are
retried until the termination is acknowledged or the cluster is confirmed gone.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, logger, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		s, err := openSession(ctx, cfg, logger, true, false)
		if err != nil {
			return err
		}
		defer s.close()

		return s.terminate(ctx)
	},
}

func init() {
	rootCmd.AddCommand(teardownCmd)
}
