package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-engine/internal/model"
)

var runCampaignID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a campaign execution to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		eng, err := initEngine(st)
		if err != nil {
			return err
		}

		executionID, err := eng.Start(ctx, runCampaignID, model.ExecutionTypeManual)
		if err != nil {
			return eris.Wrap(err, "start execution")
		}
		zap.L().Info("execution accepted",
			zap.String("campaign_id", runCampaignID),
			zap.String("execution_id", executionID),
		)

		// A signal requests cooperative cancellation; either way we wait for
		// the run loop to drain before summarizing.
		go func() {
			<-ctx.Done()
			if _, err := eng.Stop(cmd.Context(), executionID); err != nil {
				zap.L().Warn("stop request failed", zap.Error(err))
			}
		}()
		eng.Wait(executionID)

		summary, err := eng.Summarize(cmd.Context(), executionID)
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

func init() {
	runCmd.Flags().StringVar(&runCampaignID, "campaign", "", "campaign ID (required)")
	_ = runCmd.MarkFlagRequired("campaign")
	rootCmd.AddCommand(runCmd)
}
