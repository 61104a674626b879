package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aqi-feature-store",
	Short: "Ingest AQI and weather observations and derive forecasting features",
	Long: `aqi-feature-store pulls air-quality and weather observations from several
providers, normalizes them into one hourly record per entity, stores them
idempotently and derives lag features for AQI forecasting.

Configuration is read from the environment (and .env when present).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("aqi-feature-store version %s\nCommit: %s\n", Version, Commit))

	backfillCmd.Flags().String("start", "", "first day to backfill (YYYY-MM-DD), overrides BACKFILL_START")
	backfillCmd.Flags().String("end", "", "last day to backfill (YYYY-MM-DD), overrides BACKFILL_END")
	auditCmd.Flags().String("from", "", "first day to audit (YYYY-MM-DD)")
	auditCmd.Flags().String("to", "", "last day to audit (YYYY-MM-DD), defaults to today")
	_ = auditCmd.MarkFlagRequired("from")

	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(serveCmd)
}
