package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clusterlift/clusterlift/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Create, view and validate the clusterlift configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Display current config (secrets masked)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(context.Background(), cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		fmt.Println("Current configuration:")
		fmt.Println()
		fmt.Printf("  AWS:\n")
		fmt.Printf("    Region:         %s\n", cfg.AWS.Region)
		fmt.Printf("    Profile:        %s\n", cfg.AWS.Profile)
		fmt.Printf("    Access Key:     %s\n", maskSecret(cfg.AWS.AccessKeyID))
		fmt.Printf("    Secret Key:     %s\n", maskSecret(cfg.AWS.SecretAccessKey))
		fmt.Printf("    Bucket:         %s\n", cfg.AWS.Bucket)
		fmt.Printf("    Logs:           %s\n", cfg.LogURI())
		fmt.Println()
		fmt.Printf("  Cluster:\n")
		fmt.Printf("    Name:           %s\n", cfg.Cluster.Name)
		fmt.Printf("    Release:        %s\n", cfg.Cluster.ReleaseLabel)
		fmt.Printf("    Master:         %s\n", cfg.Cluster.MasterInstanceType)
		fmt.Printf("    Core:           %s\n", cfg.Cluster.CoreInstanceType)
		fmt.Printf("    Instances:      %d\n", cfg.Cluster.InstanceCount)
		fmt.Printf("    Key Pair:       %s\n", cfg.Cluster.KeyName)
		fmt.Printf("    Applications:   %s\n", strings.Join(cfg.Cluster.Applications, ", "))
		fmt.Println()
		fmt.Printf("  Scripts:\n")
		fmt.Printf("    Local Dir:      %s\n", cfg.Scripts.LocalDir)
		fmt.Printf("    S3 Prefix:      %s\n", cfg.Scripts.Prefix)
		fmt.Printf("    Staging Dir:    %s\n", cfg.Scripts.StagingDir)
		fmt.Printf("    On Failure:     %s\n", cfg.Scripts.OnFailure)
		fmt.Println()
		fmt.Printf("  Events:\n")
		fmt.Printf("    AMQP:           %s\n", maskSecret(cfg.Events.AMQPURL))
		fmt.Printf("    Journal:        %s\n", maskSecret(cfg.Events.JournalDSN))
		fmt.Printf("    Metrics File:   %s\n", cfg.Events.MetricsFile)
		fmt.Printf("    Listen:         %s\n", cfg.Events.ListenAddr)

		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(context.Background(), cfgFile)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			fmt.Println("Validation errors:")
			for _, line := range strings.Split(err.Error(), "\n") {
				fmt.Printf("  - %s\n", line)
			}
			return fmt.Errorf("config invalid")
		}
		if err := cfg.ClusterSpec().Validate(); err != nil {
			return err
		}

		fmt.Println("Configuration is valid.")
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with default settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.ExpandHome(config.DefaultPath)
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if err := config.Default().Save(path); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Printf("Wrote %s\n", path)
		fmt.Println("Set aws.region, aws.bucket and cluster.name before running 'clusterlift lift'.")
		return nil
	},
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
