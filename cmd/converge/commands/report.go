package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newReportCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show run history",
		Long: `List previous convergence runs, or show one run in detail.

Without arguments the most recent runs are listed. With a run ID the
per-action and per-handler outcomes of that run are shown.`,
		Example: `  # Recent runs
  converge report

  # One run in detail
  converge report 6df7e2a0-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}
			store, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				runs, err := store.ListRuns(ctx, limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return json.NewEncoder(os.Stdout).Encode(runs)
				}

				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "RUN\tSTATUS\tTARGET\tDRY\tSTARTED")
				for _, r := range runs {
					targetName := r.Target
					if targetName == "" {
						targetName = "local"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
						r.ID, r.Status, targetName, r.DryRun,
						r.StartedAt.Format(time.RFC3339))
				}
				return w.Flush()
			}

			runID := args[0]
			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			actions, err := store.ListActionsByRun(ctx, runID)
			if err != nil {
				return err
			}
			handlers, err := store.ListHandlersByRun(ctx, runID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]any{
					"run":      run,
					"actions":  actions,
					"handlers": handlers,
				})
			}

			fmt.Printf("Run %s  status=%s  started=%s\n\n",
				run.ID, run.Status, run.StartedAt.Format(time.RFC3339))

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ACTION\tREF\tVERB\tSTATUS\tDETAIL")
			for _, a := range actions {
				detail := ""
				if a.Reason != nil {
					detail = *a.Reason
				}
				if a.Error != nil {
					detail = *a.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Ref, a.Verb, a.Status, detail)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if len(handlers) > 0 {
				fmt.Println()
				hw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(hw, "HANDLER\tREF\tSTATUS\tTRIGGERS")
				for _, h := range handlers {
					fmt.Fprintf(hw, "%s\t%s\t%s\t%d\n", h.HandlerID, h.Ref, h.Status, h.TriggerCount)
				}
				return hw.Flush()
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	return cmd
}
