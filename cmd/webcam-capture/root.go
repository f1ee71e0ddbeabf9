package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	httpapi "github.com/i474232898/webcam-capture/internal/api/http"
	"github.com/i474232898/webcam-capture/internal/config"
	"github.com/i474232898/webcam-capture/internal/pipeline"
	"github.com/i474232898/webcam-capture/internal/scheduler"
)

var (
	cfgPath  string
	logLevel string

	cfg *config.AppConfig
	log *zap.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "webcam-capture",
		Short:        "Adaptive day/night webcam capture daemon",
		Long:         "Grabs RTSP stills on a sun-aware schedule, stamps a METAR badge and uploads them.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, log, err = loadConfig(cfgPath, logLevel)
			return err
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the YAML config (default $CONFIG_PATH or "+config.DefaultPath+")")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	cmd.AddCommand(
		newRunCmd(),
		newOnceCmd(),
		newCheckCmd(),
	)
	return cmd
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler and the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()
			return runDaemon()
		},
	}
}

func runDaemon() error {
	a, err := buildApp(cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return err
	}
	startedAt := time.Now()

	sched := scheduler.New(a.orchestrator, a.clock, scheduler.Intervals{
		Day:   cfg.DayInterval(),
		Night: cfg.NightInterval(),
		Check: cfg.TransitionCheckPeriod(),
	}, log, scheduler.WithStateHook(a.metrics.ObserveArm))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var server interface {
		ShutdownWithContext(context.Context) error
	}
	if cfg.Status.Addr != "" {
		app := httpapi.NewApp(log)
		httpapi.RegisterRoutes(app, httpapi.Deps{
			Location:  cfg.Location.Name,
			Scheduler: sched,
			Store:     a.store,
			Gatherer:  a.registry,
			StartedAt: startedAt,
		})
		go func() {
			if err := app.Listen(cfg.Status.Addr); err != nil {
				log.Error("status server stopped", zap.Error(err))
			}
		}()
		log.Info("status api listening", zap.String("addr", cfg.Status.Addr))
		server = app
	}

	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler", zap.Error(err))
		return err
	}

	<-ctx.Done()
	log.Info("shutdown requested")

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout(cfg))
	defer cancel()
	if err := sched.Stop(drainCtx); err != nil {
		log.Warn("in-flight cycle did not finish", zap.Error(err))
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error("error during shutdown", zap.Error(err))
		}
	}
	return nil
}

type onceOptions struct {
	asJSON bool
}

func bindOnceFlags(fs *pflag.FlagSet, opts *onceOptions) {
	fs.BoolVar(&opts.asJSON, "json", false, "print the cycle report as JSON")
}

func newOnceCmd() *cobra.Command {
	var opts onceOptions
	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single capture cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer func() { _ = log.Sync() }()
			a, err := buildApp(cfg, log)
			if err != nil {
				return err
			}

			interrupts := make(chan os.Signal, 1)
			signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(interrupts)

			report := runToCompletion(a.orchestrator, interrupts, log)
			out := cmd.OutOrStdout()
			if opts.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "cycle %s: %s (%s, %d bytes)\n", report.ID, report.Outcome, report.Duration, report.Bytes)
				for _, st := range report.Stages {
					fmt.Fprintf(out, "  %-8s %-8s %s %s\n", st.Stage, st.Status, st.Duration, st.Error)
				}
			}
			if report.Outcome == pipeline.OutcomeFailed {
				return errors.New(report.Error)
			}
			return nil
		},
	}
	bindOnceFlags(cmd.Flags(), &opts)
	return cmd
}

// runToCompletion runs one cycle on an uncancellable context. Signals received
// meanwhile are logged and the cycle is left to finish.
func runToCompletion(cycle scheduler.Cycle, interrupts <-chan os.Signal, log *zap.Logger) pipeline.Report {
	done := make(chan pipeline.Report, 1)
	go func() { done <- cycle.RunCycle(context.Background(), time.Now()) }()
	for {
		select {
		case r := <-done:
			return r
		case sig := <-interrupts:
			log.Warn("signal received, waiting for the capture cycle to finish", zap.String("signal", sig.String()))
		}
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print the current sun schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(cfg, log)
			if err != nil {
				return err
			}
			if err := a.capturer.Check(); err != nil {
				return err
			}

			now := time.Now()
			rise, set := a.clock.Times(now)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "location:        %s (%.4f, %.4f)\n", cfg.Location.Name, cfg.Location.Latitude, cfg.Location.Longitude)
			fmt.Fprintf(out, "sunrise:         %s\n", formatSunTime(rise))
			fmt.Fprintf(out, "sunset:          %s\n", formatSunTime(set))
			fmt.Fprintf(out, "mode:            %s\n", a.clock.State(now))
			fmt.Fprintf(out, "next transition: %s\n", formatSunTime(a.clock.NextTransition(now)))
			fmt.Fprintf(out, "intervals:       day %s, night %s, check %s\n",
				cfg.DayInterval(), cfg.NightInterval(), cfg.TransitionCheckPeriod())
			fmt.Fprintf(out, "upload:          %s (%d attempts)\n", a.uploader.Sink().Name(), cfg.Upload.MaxAttempts)
			return nil
		},
	}
}

func formatSunTime(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return t.UTC().Format(time.RFC3339)
}
