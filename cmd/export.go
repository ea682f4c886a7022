package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/export"
	"github.com/sells-group/outreach-engine/internal/model"
	"github.com/sells-group/outreach-engine/internal/store"
)

var (
	exportOut      string
	exportQuality  string
	exportStatus   string
	exportMinScore float64
)

var exportCmd = &cobra.Command{
	Use:   "export <campaign-id>",
	Short: "Export campaign leads to CSV or XLSX",
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

		n, err := export.New(st).CampaignToFile(ctx, args[0], exportOut, store.LeadFilter{
			Quality:  model.QualityTier(exportQuality),
			Status:   model.LeadStatus(exportStatus),
			MinScore: exportMinScore,
		})
		if err != nil {
			return err
		}
		return printJSON(map[string]any{
			"path":  exportOut,
			"leads": n,
		})
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output path, .csv or .xlsx (required)")
	exportCmd.Flags().StringVar(&exportQuality, "quality", "", "filter by quality tier")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "filter by lead status")
	exportCmd.Flags().Float64Var(&exportMinScore, "min-score", 0, "minimum score")
	_ = exportCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(exportCmd)
}
