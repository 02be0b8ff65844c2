package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fleet-etl",
	Short: "Fleet telemetry sync service",
	Long: `An incremental batch-sync service that extracts fleet telemetry
(trips, engine faults, devices, users, zones, exception rules) from a
remote vehicle-tracking API into a relational store.

Features:
• Per-entity watermark cursors with monotonic advancement
• Idempotent upserts, safe to re-run after any failure
• Bounded pagination with page and record safety caps
• NATS sync lifecycle events and optional InfluxDB run metrics
• HTTP triggers with Redis run locking`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
