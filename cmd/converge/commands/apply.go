package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/config"
	"github.com/convergekit/converge/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		target          string
		continueOnError bool
		dryRun          bool
		factTTL         time.Duration
		lockFile        string
	)

	cmd := &cobra.Command{
		Use:   "apply <manifest>",
		Short: "Converge a host to the declared state",
		Long: `Run the full convergence pipeline against a target host.

This command:
  - Loads and validates the manifest
  - Probes the current state of every declared resource
  - Computes a dependency-ordered plan
  - Gates the plan through policy
  - Executes actions sequentially, recording every outcome
  - Fires change handlers after all primary actions
  - Persists the run, its actions, and gathered facts

A converged host yields a plan where every action is skipped as
already satisfied; re-running apply is always safe.`,
		Example: `  # Converge the local host
  converge apply site.yaml

  # Converge a remote host, keep going past failures
  converge apply --target ssh://admin@web01 --continue-on-error site.yaml

  # Show what would change without touching anything
  converge apply --dry-run site.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			settings, err := loadSettings(configPath)
			if err != nil {
				return err
			}

			tel, err := buildTelemetry(settings, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tel.Shutdown(shutdownCtx)
			}()
			if tel.Config.Metrics.Enabled {
				if err := tel.StartMetricsServer(); err != nil {
					tel.Logger.WithError(err).Warn("Failed to start metrics server")
				}
			}
			logger := tel.Logger.Zerolog()

			if lockFile != "" {
				release, err := acquireLockFile(lockFile)
				if err != nil {
					return err
				}
				defer release()
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

			gate, err := buildPolicyEngine(ctx, settings, tel)
			if err != nil {
				return err
			}

			store, err := openStore(ctx, settings)
			if err != nil {
				return err
			}
			defer store.Close()

			runner := engine.NewRunner(registry, engine.RunnerConfig{
				Target:          target,
				ContinueOnError: continueOnError,
				DryRun:          dryRun,
				FactTTL:         factTTL,
			}, logger).
				WithPolicy(gate).
				WithStore(store).
				WithTelemetry(tel.Metrics, tel.Tracer)

			report, err := runner.Run(ctx, result.Resources, result.Handlers)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
					return err
				}
			} else {
				report.RenderText(os.Stdout)
			}

			if report.ExitCode != 0 {
				return fmt.Errorf("run %s finished with failures", report.RunID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "execution target (local, ssh://user@host)")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "keep executing after an action fails")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan and report without applying anything")
	cmd.Flags().DurationVar(&factTTL, "fact-ttl", time.Hour, "how long gathered facts stay cached")
	cmd.Flags().StringVar(&lockFile, "lock-file", "", "advisory lock file held for the run duration")

	return cmd
}
