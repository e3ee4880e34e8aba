package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/config"
	"github.com/convergekit/converge/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "plan <manifest>",
		Short: "Compute the actions needed to converge a host",
		Long: `Probe the target host and compute the minimum ordered set of
actions that would bring it to the declared state. Nothing is changed.

Resources whose state cannot be probed are treated as absent and
surface in the output, so the plan is always complete.`,
		Example: `  # Plan against the local host
  converge plan site.yaml

  # Plan against a remote host over SSH
  converge plan --target ssh://admin@web01 site.yaml

  # Machine-readable plan
  converge plan --json site.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}

			loader := config.NewLoader(config.LoaderOptions{})
			result, err := loader.Load(ctx, path)
			if err != nil {
				return err
			}
			if target == "" {
				target = result.Manifest.Target
			}

			transport, err := connectTransport(ctx, target, settings)
			if err != nil {
				return err
			}
			defer transport.Close()

			registry, err := buildRegistry(transport, settings)
			if err != nil {
				return err
			}

			logger := log.Logger
			snap, err := engine.NewFactGatherer(registry, logger).Gather(ctx, result.Resources)
			if err != nil {
				return err
			}
			plan, err := engine.NewPlanner(logger).Plan(result.Resources, snap)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(plan)
			}
			renderPlan(os.Stdout, plan, snap)
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "execution target (local, ssh://user@host)")

	return cmd
}

var verbSymbols = map[engine.Verb]string{
	engine.VerbCreate: "+",
	engine.VerbModify: "~",
	engine.VerbRemove: "-",
	engine.VerbNoop:   "=",
}

// renderPlan writes a human-readable plan listing.
func renderPlan(w io.Writer, plan *engine.Plan, snap *engine.Snapshot) {
	for i := range plan.Actions {
		a := &plan.Actions[i]
		fmt.Fprintf(w, "%s %s  %s\n", verbSymbols[a.Verb], a.Ref, a.Verb)
		for _, c := range a.Diff {
			switch a.Verb {
			case engine.VerbCreate:
				fmt.Fprintf(w, "    %s = %v\n", c.Path, c.After)
			case engine.VerbRemove:
				fmt.Fprintf(w, "    %s (was %v)\n", c.Path, c.Before)
			default:
				fmt.Fprintf(w, "    %s: %v -> %v\n", c.Path, c.Before, c.After)
			}
		}
	}

	if snap != nil {
		for ref, msg := range snap.Unknown {
			fmt.Fprintf(w, "! %s  probe failed, assumed absent: %s\n", ref, msg)
		}
	}

	s := plan.Summary
	fmt.Fprintf(w, "\nPlan: %d to create, %d to modify, %d to remove, %d unchanged\n",
		s.ToCreate, s.ToModify, s.ToRemove, s.NoChange)
	if s.Converged() {
		fmt.Fprintln(w, "Host already matches the declared state.")
	}
}
