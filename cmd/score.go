package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var scoreCmd = &cobra.Command{
	Use:   "score <lead-id>",
	Short: "Recompute and persist the score of a lead",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		lead, err := eng.ScoreLead(ctx, args[0])
		if err != nil {
			return err
		}
		zap.L().Info("lead scored",
			zap.String("lead_id", lead.ID),
			zap.Float64("score", lead.Score),
			zap.String("quality", string(lead.Quality)),
		)
		return printJSON(lead)
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich <lead-id>",
	Short: "Run the enrichment sources for a lead on demand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

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

		lead, fields, err := eng.EnrichLead(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"lead":            lead,
			"enriched_fields": fields,
		})
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd, enrichCmd)
}
