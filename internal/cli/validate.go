package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rostrum-oss/rostrum/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml> [workflow.yaml...]",
	Short: "Validate workflow definitions",
	Long: `Parse and validate workflow definition files without running them.

Checks YAML structure, task ids, dependency references, and cycles.

Examples:
  rostrum validate deploy.yaml
  rostrum validate workflows/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	invalid := 0
	for _, path := range args {
		def, err := config.LoadDefinition(path)
		if err != nil {
			fmt.Printf("✗ %s: %v\n", path, err)
			invalid++
			continue
		}
		fmt.Printf("✓ %s: %s (%d tasks)\n", path, def.ID, len(def.Tasks))
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d files invalid", invalid, len(args))
	}
	return nil
}
