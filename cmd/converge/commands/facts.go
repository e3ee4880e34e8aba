package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/config"
)

func newFactsCommand() *cobra.Command {
	var (
		target  string
		limit   int
		prune   bool
		refresh bool
		factTTL time.Duration
	)

	cmd := &cobra.Command{
		Use:   "facts [manifest]",
		Short: "Inspect cached host facts",
		Long: `List the facts gathered during previous runs.

Facts are the per-resource observations cached in the state database,
with their freshness window. Expired facts can be pruned, or
re-gathered from a manifest with --refresh.`,
		Example: `  # List cached facts
  converge facts

  # Facts for one target only
  converge facts --target ssh://admin@web01

  # Drop expired facts
  converge facts --prune

  # Re-probe every resource in a manifest and update the cache
  converge facts --refresh site.yaml`,
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

			if refresh {
				if len(args) != 1 {
					return fmt.Errorf("--refresh requires a manifest argument")
				}
				result, err := config.NewLoader(config.LoaderOptions{}).Load(ctx, args[0])
				if err != nil {
					return err
				}
				probeTarget := target
				if probeTarget == "" {
					probeTarget = result.Manifest.Target
				}
				transport, err := connectTransport(ctx, probeTarget, settings)
				if err != nil {
					return err
				}
				defer transport.Close()
				registry, err := buildRegistry(transport, settings)
				if err != nil {
					return err
				}
				if err := refreshFacts(ctx, store, registry, probeTarget, result.Resources, factTTL, log.Logger); err != nil {
					return err
				}
				log.Info().Int("resources", len(result.Resources)).Msg("Facts refreshed")
			}

			if prune {
				n, err := store.DeleteExpiredFacts(ctx)
				if err != nil {
					return err
				}
				log.Info().Int64("pruned", n).Msg("Expired facts removed")
			}

			var targetFilter *string
			if target != "" {
				targetFilter = &target
			}
			facts, err := store.ListFacts(ctx, targetFilter, limit, 0)
			if err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(facts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REF\tTARGET\tEXISTS\tUPDATED\tEXPIRES")
			for _, f := range facts {
				expires := "-"
				if f.ExpiresAt != nil {
					expires = f.ExpiresAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
					f.Ref, f.TargetID, f.Exists,
					f.UpdatedAt.Format(time.RFC3339), expires)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "only facts for this target")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum facts to list")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete expired facts first")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-probe the manifest's resources before listing")
	cmd.Flags().DurationVar(&factTTL, "fact-ttl", time.Hour, "freshness window for refreshed facts")

	return cmd
}
