package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/config"
	"github.com/convergekit/converge/pkg/engine"
)

func newWatchCommand() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "watch <manifest>",
		Short: "Replan whenever the manifest changes",
		Long: `Watch a manifest file and recompute the plan on every change.

Nothing is ever applied; this is a feedback loop for manifest authors.
The manifest's directory is watched so editor save-and-rename cycles
are picked up.`,
		Example: `  # Watch a manifest and replan on save
  converge watch site.yaml

  # Watch while planning against a remote host
  converge watch --target ssh://admin@web01 site.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}

			replan := func() {
				loader := config.NewLoader(config.LoaderOptions{})
				result, err := loader.Load(ctx, path)
				if err != nil {
					log.Error().Err(err).Msg("Manifest is invalid")
					return
				}

				planTarget := target
				if planTarget == "" {
					planTarget = result.Manifest.Target
				}
				transport, err := connectTransport(ctx, planTarget, settings)
				if err != nil {
					log.Error().Err(err).Msg("Failed to reach target")
					return
				}
				defer transport.Close()

				registry, err := buildRegistry(transport, settings)
				if err != nil {
					log.Error().Err(err).Msg("Failed to build adapters")
					return
				}

				snap, err := engine.NewFactGatherer(registry, log.Logger).Gather(ctx, result.Resources)
				if err != nil {
					log.Error().Err(err).Msg("Fact gathering failed")
					return
				}
				plan, err := engine.NewPlanner(log.Logger).Plan(result.Resources, snap)
				if err != nil {
					log.Error().Err(err).Msg("Planning failed")
					return
				}

				fmt.Printf("--- %s @ %s ---\n", filepath.Base(path), time.Now().Format(time.TimeOnly))
				renderPlan(os.Stdout, plan, snap)
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("failed to create watcher: %w", err)
			}
			defer watcher.Close()

			if err := watcher.Add(filepath.Dir(path)); err != nil {
				return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
			}

			log.Info().Str("manifest", path).Msg("Watching for changes")
			replan()

			// Editors fire bursts of events per save, debounce them.
			var pending *time.Timer
			debounce := 500 * time.Millisecond

			for {
				select {
				case <-ctx.Done():
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if filepath.Clean(event.Name) != path {
						continue
					}
					if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
						continue
					}
					log.Debug().Str("op", event.Op.String()).Msg("Manifest changed")
					if pending != nil {
						pending.Stop()
					}
					pending = time.AfterFunc(debounce, replan)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Error().Err(err).Msg("Watcher error")
				}
			}
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "execution target (local, ssh://user@host)")

	return cmd
}
