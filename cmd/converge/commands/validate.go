package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/convergekit/converge/pkg/config"
	"github.com/convergekit/converge/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a resource manifest",
		Long: `Validate a resource manifest without touching any host.

This command checks:
  - YAML syntax and unknown fields
  - Resource kinds, IDs, and duplicate declarations
  - Variable references and template rendering
  - Handler triggers against declared resources
  - Dependency references and cycles`,
		Example: `  # Validate a manifest
  converge validate site.yaml

  # Machine-readable result
  converge validate --json site.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			loader := config.NewLoader(config.LoaderOptions{})
			result, err := loader.Load(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("manifest %s is invalid: %w", path, err)
			}

			// A dependency cycle is a manifest defect, catch it here
			// rather than at plan time.
			if _, err := engine.SortResources(result.Resources); err != nil {
				return fmt.Errorf("manifest %s is invalid: %w", path, err)
			}

			if jsonOutput {
				out := map[string]any{
					"valid":     true,
					"manifest":  path,
					"resources": len(result.Resources),
					"handlers":  len(result.Handlers),
				}
				return json.NewEncoder(os.Stdout).Encode(out)
			}

			log.Info().
				Str("manifest", path).
				Int("resources", len(result.Resources)).
				Int("handlers", len(result.Handlers)).
				Msg("Manifest is valid")
			fmt.Printf("%s: %d resources, %d handlers, OK\n",
				path, len(result.Resources), len(result.Handlers))

			return nil
		},
	}

	return cmd
}
