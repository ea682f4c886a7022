package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/crmsync"
)

var syncCmd = &cobra.Command{
	Use:   "sync <campaign-id>",
	Short: "Push qualified leads into Salesforce",
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

		sf, err := initSalesforce()
		if err != nil {
			return err
		}

		result, err := crmsync.New(sf, st).SyncCampaign(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
