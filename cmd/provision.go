package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

var provisionDryRun bool

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a cluster and record it as the current session",
	Long: `Provision an EMR cluster from the cluster section of the config and record its
handle in ~/.clusterlift/session.yaml. The cluster keeps running until
'clusterlift teardown'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, logger, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		spec := cfg.ClusterSpec()

		if provisionDryRun {
			if err := spec.Validate(); err != nil {
				return err
			}
			fmt.Println("Cluster request:")
			fmt.Printf("  Name:           %s\n", spec.Name)
			fmt.Printf("  Release:        %s\n", spec.ReleaseLabel)
			fmt.Printf("  Instances:      %d (master %s, core %s)\n", spec.InstanceCount, spec.MasterInstanceType, spec.CoreInstanceType)
			fmt.Printf("  Applications:   %s\n", strings.Join(spec.Applications, ", "))
			fmt.Printf("  Logs:           %s\n", spec.LogURI)
			fmt.Printf("  Roles:          %s / %s\n", spec.InstanceRole, spec.ServiceRole)
			fmt.Printf("  Keep alive:     %v\n", spec.KeepAlive)
			return nil
		}

		s, err := openSession(ctx, cfg, logger, false, false)
		if err != nil {
			return err
		}
		defer s.close()

		fmt.Printf("Provisioning cluster %s...\n", spec.Name)
		h, err := s.orch.Start(ctx, spec)
		if err != nil {
			return fmt.Errorf("provisioning: %w", err)
		}

		fmt.Printf("  Cluster: %s\n", h)
		fmt.Printf("  Session: %s\n", s.orch.SessionID())
		fmt.Println()
		fmt.Println("Run scripts with 'clusterlift exec <script>' and remove the cluster with 'clusterlift teardown'.")
		return nil
	},
}

func init() {
	provisionCmd.Flags().BoolVar(&provisionDryRun, "dry-run", false, "print the cluster request without provisioning")
	rootCmd.AddCommand(provisionCmd)
}
