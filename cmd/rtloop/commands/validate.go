package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rtloop/rtloop/pkg/graph"
	"github.com/rtloop/rtloop/pkg/plugin"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workspace.json>",
		Short: "Validate a workspace document",
		Long: `Validate a workspace document without running it.

This command checks:
  - Document schema conformance
  - Plugin kinds against the registry and catalog
  - Variable values against their constraints
  - Port wiring, type matches, and cycles

On success it prints the execution order the engine would use.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := graph.Load(args[0])
			if err != nil {
				return err
			}

			reg, _, err := buildRegistry(log.Logger)
			if err != nil {
				return err
			}

			manifests := make(map[uint64]plugin.Manifest, len(ws.Instances))
			for _, inst := range ws.Instances {
				plug, err := reg.New(inst.Kind)
				if err != nil {
					return fmt.Errorf("instance %d: %w", inst.ID, err)
				}
				if err := plug.Configure(inst.Variables); err != nil {
					return fmt.Errorf("instance %d: %w", inst.ID, err)
				}
				manifests[inst.ID] = plug.Manifest()
			}

			order, err := graph.Validate(ws, manifests)
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"workspace": ws.Name,
					"instances": len(ws.Instances),
					"order":     order,
				})
			}

			fmt.Printf("workspace %q is valid\n", ws.Name)
			fmt.Printf("  period:    %s\n", ws.Settings.Period)
			fmt.Printf("  instances: %d\n", len(ws.Instances))
			fmt.Print("  execution order:")
			for _, id := range order {
				fmt.Printf(" %d", id)
			}
			fmt.Println()
			return nil
		},
	}

	return cmd
}
