package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleet-monitor/gps-poller/internal/logging"
	"fleet-monitor/gps-poller/internal/pipeline"
)

var (
	pollAction   string
	pollUseCache bool
	pollTimeout  time.Duration
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run a single poll cycle and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log := logging.New()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithTimeout(logging.NewContext(ctx, log), pollTimeout)
		defer cancel()

		a, err := newApp(ctx, cfg, log, false)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.poller.Run(ctx, pipeline.Request{Action: pollAction, UseCache: pollUseCache})
		if a.trips != nil {
			a.trips.Flush(ctx)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	pollCmd.Flags().StringVar(&pollAction, "action", pipeline.ActionLastPosition, "Cycle action (lastposition or querymonitorlist)")
	pollCmd.Flags().BoolVar(&pollUseCache, "use-cache", false, "Return a cached result when one is fresh")
	pollCmd.Flags().DurationVar(&pollTimeout, "timeout", 2*time.Minute, "Overall timeout for the cycle")
}
