package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Consume engagement events from the delivery gateway queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Events.AMQPURL == "" {
			return eris.New("events broker URL is required (OUTREACH_EVENTS_AMQP_URL)")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		consumer := events.NewConsumer(cfg.Events.AMQPURL, cfg.Events.Queue, st)
		if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(eventsCmd)
}
