package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"fleet-monitor/gps-poller/internal/auth"
	"fleet-monitor/gps-poller/internal/logging"
	"fleet-monitor/gps-poller/internal/pipeline"
	transport "fleet-monitor/gps-poller/internal/transport/http"
)

var (
	serveSchedule string
	serveNoCron   bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP trigger and the poll schedule",
	Long:  "serve exposes POST /invoke, /healthz and /metrics and runs a poll cycle on the configured cron schedule.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if serveSchedule != "" {
			cfg.PollSchedule = serveSchedule
		}

		log := logging.New()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, log)

		a, err := newApp(ctx, cfg, log, true)
		if err != nil {
			return err
		}
		defer a.Close()

		go a.state.Run(ctx)
		if a.trips != nil {
			go a.trips.Run(ctx)
		}

		var sched *cron.Cron
		if !serveNoCron {
			sched = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
			_, err := sched.AddFunc(cfg.PollSchedule, func() {
				cycleCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
				defer cancel()
				if _, err := a.poller.Run(cycleCtx, pipeline.Request{}); err != nil {
					log.Error("scheduled_cycle_failed", "error", err)
				}
			})
			if err != nil {
				return err
			}
			sched.Start()
			log.Info("poll_schedule_started", "schedule", cfg.PollSchedule)
		}

		authenticator := auth.NewAuthenticator(cfg, a.redis)
		server := transport.NewServer(a.poller, map[string]transport.Pinger{
			"postgres": a.db,
			"redis":    a.redis,
		}, log)

		srv := &http.Server{
			Addr:              ":" + cfg.HTTPPort,
			Handler:           server.Handler(transport.NewAuthMiddleware(authenticator), os.Stdout),
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("http_listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}

		log.Info("shutting_down")
		if sched != nil {
			<-sched.Stop().Done()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveSchedule, "schedule", "", "Cron spec for poll cycles (overrides POLL_SCHEDULE)")
	serveCmd.Flags().BoolVar(&serveNoCron, "no-cron", false, "Only poll when /invoke is called")
}
