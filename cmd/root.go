package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "clusterlift",
	Short: "Run Spark scripts on short-lived EMR clusters",
	Long: `clusterlift provisions an EMR cluster, stages local Spark scripts through S3,
submits them as cluster steps and tears the cluster down again.

Use "clusterlift lift <script>" for a one-shot run, or drive the lifecycle
step by step with provision, exec, await and teardown.`,
	SilenceUsage: true,
}

func Execute() {
	rootCmd.Version = version + " (" + commit + ", " + date + ")"
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.clusterlift/clusterlift.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides logging.level")
}
