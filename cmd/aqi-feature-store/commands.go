package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/aqi-feature-store/internal/api/http"
	"github.com/i474232898/aqi-feature-store/internal/aqi/providers"
	"github.com/i474232898/aqi-feature-store/internal/audit"
	"github.com/i474232898/aqi-feature-store/internal/backfill"
	"github.com/i474232898/aqi-feature-store/internal/config"
	"github.com/i474232898/aqi-feature-store/internal/scheduler"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func parseDay(s string) (config.Date, error) {
	var d config.Date
	if err := d.Decode(s); err != nil {
		return d, fmt.Errorf("invalid date %q: use YYYY-MM-DD", s)
	}
	return d, nil
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch and store historical AQI and weather for a date range",
	Long: `Backfill walks the configured date range oldest first in batches of
BACKFILL_BATCH_DAYS days. Days that already have a stored daily AQI are
skipped without calling any provider. Interrupting the command stops after
the unit in progress; committed units are kept.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		for flag, dst := range map[string]*config.Date{"start": &a.cfg.BackfillStart, "end": &a.cfg.BackfillEnd} {
			if v, _ := cmd.Flags().GetString(flag); v != "" {
				d, err := parseDay(v)
				if err != nil {
					return err
				}
				*dst = d
			}
		}
		if a.cfg.BackfillStart.IsZero() || a.cfg.BackfillEnd.IsZero() {
			return fmt.Errorf("backfill range required: set BACKFILL_START/BACKFILL_END or --start/--end")
		}

		loc, err := a.location(ctx, a.cfg.BackfillAQISource == "aqicn")
		if err != nil {
			return err
		}

		orch := backfill.New(a.store,
			providers.NewOpenMeteoWeather(a.http),
			a.backfillAQISource(loc),
			backfill.Config{
				Start:           a.cfg.BackfillStart.Time,
				End:             a.cfg.BackfillEnd.Time,
				BatchDays:       a.cfg.BackfillBatchDays,
				Pace:            a.cfg.BackfillPace,
				ComputeFeatures: a.cfg.BackfillFeatures,
				FeatureVersion:  a.cfg.FeatureVersion,
			},
			backfill.WithLogger(a.logger),
		)

		summary, err := orch.Run(ctx, loc)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), summary)
	},
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live feature pipeline once",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		loc, err := a.location(ctx, false)
		if err != nil {
			return err
		}
		svc, err := a.service()
		if err != nil {
			return err
		}

		res, err := scheduler.New(a.cfg.LiveSchedule, loc, svc, a.logger).RunOnce(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), res)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the configured city to its monitoring station",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		loc, err := a.location(ctx, true)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"entity":     loc.Entity,
			"station_id": loc.StationID,
			"geo":        loc.Geo,
		})
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Report stored hourly coverage and null counts for a date range",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		fromStr, _ := cmd.Flags().GetString("from")
		from, err := parseDay(fromStr)
		if err != nil {
			return err
		}
		to := config.Date{Time: time.Now().UTC()}
		if toStr, _ := cmd.Flags().GetString("to"); toStr != "" {
			if to, err = parseDay(toStr); err != nil {
				return err
			}
		}

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		report, err := audit.Coverage(ctx, a.store, a.cfg.Location().Entity, from.Time, to.Time)
		if err != nil {
			return err
		}
		a.logger.Info("coverage audited",
			"entity", report.Entity,
			"stored_hours", report.StoredHours,
			"expected_hours", report.ExpectedHours,
			"missing_hours", len(report.MissingHours),
		)
		return printJSON(cmd.OutOrStdout(), report)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API and run the live pipeline on LIVE_SCHEDULE",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		a, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		svc, err := a.service()
		if err != nil {
			return err
		}

		loc, err := a.location(ctx, false)
		if err != nil {
			return err
		}
		sched := scheduler.New(a.cfg.LiveSchedule, loc, svc, a.logger)
		if err := sched.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer sched.Stop()

		server := httpapi.NewApp()
		httpapi.RegisterRoutes(server, svc, a.store)

		go func() {
			a.logger.Info("listening", "port", a.cfg.Port)
			if err := server.Listen(":" + a.cfg.Port); err != nil {
				a.logger.Error("fiber server stopped", "error", err)
				stop()
			}
		}()

		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		}
		return nil
	},
}
