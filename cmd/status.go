package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statusSummary bool

var statusCmd = &cobra.Command{
	Use:   "status <execution-id>",
	Short: "Show the checkpointed status of an execution",
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

		if statusSummary {
			summary, err := eng.Summarize(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(summary)
		}

		status, err := eng.Status(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(status)
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusSummary, "summary", false, "include derived engagement and cost rates")
	rootCmd.AddCommand(statusCmd)
}
