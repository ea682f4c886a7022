package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-engine/internal/model"
)

var stopCmd = &cobra.Command{
	Use:   "stop <execution-id>",
	Short: "Cancel an execution",
	Long:  "Requests cooperative cancellation: in-flight leads complete, progress is checkpointed, and the execution transitions to cancelled. Executions owned by a serve process must be stopped through its API.",
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

		exec, err := st.GetExecution(ctx, args[0])
		if err != nil {
			return err
		}
		if exec.Status.Terminal() {
			return printJSON(map[string]any{
				"accepted": false,
				"status":   exec.Status,
			})
		}
		if exec.Status == model.ExecutionStatusRunning {
			return eris.Errorf("execution %s is running in another process; stop it through that process", args[0])
		}

		// Queued but ownerless: the owning process died before starting it.
		// Finalize it directly so the campaign slot frees up.
		if err := st.FinishExecution(ctx, args[0], model.ExecutionStatusCancelled, "", "", time.Now()); err != nil {
			return err
		}
		return printJSON(map[string]any{
			"accepted": true,
			"status":   model.ExecutionStatusCancelled,
		})
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}
