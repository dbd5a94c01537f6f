package cmd

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	awspkg "github.com/clusterlift/clusterlift/internal/aws"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check AWS credentials and EMR permissions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		cfg, logger, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Checking AWS credentials and permissions...")
		awsCfg, _, err := newGateway(ctx, cfg, logger)
		if err != nil {
			return err
		}

		p, err := awspkg.RunPreflight(ctx, awspkg.NewRealClient(awsCfg))
		if err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
		fmt.Printf("  Account: %s\n  ARN: %s\n", p.Identity.Account, p.Identity.ARN)
		for _, action := range awspkg.LifecycleActions {
			mark := okStyle.Render("OK")
			if slices.Contains(p.Denied, action) {
				mark = errStyle.Render("DENIED")
			}
			fmt.Printf("  [%s] %s\n", mark, action)
		}
		fmt.Printf("  %s\n", p.Message)

		if !p.OK() {
			return errors.New("missing EMR permissions")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
