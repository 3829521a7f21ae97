package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rtloop/rtloop/pkg/plugin"
)

func newPluginsCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "plugins [kind]",
		Short: "List available plugin kinds",
		Long: `List the builtin plugin kinds plus any kinds provided by the catalog.

With a kind argument, print that kind's ports and variables. With
--watch, keep running and print the catalog kinds again whenever a
manifest file in the catalog directory changes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, cat, err := buildRegistry(log.Logger)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				return describeKind(reg, args[0])
			}

			kinds := reg.Kinds()
			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if err := enc.Encode(kinds); err != nil {
					return err
				}
			} else {
				for _, kind := range kinds {
					fmt.Println(kind)
				}
			}

			if !watch {
				return nil
			}
			if cat == nil {
				return fmt.Errorf("--watch needs --catalog")
			}
			log.Info().Msg("Watching catalog directory; interrupt to stop")
			err = cat.Watch(cmd.Context(), func() {
				fmt.Println("catalog changed:")
				for _, m := range cat.Manifests() {
					fmt.Printf("  %s\n", m.Kind)
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "watch the catalog directory and reload manifests on change")

	return cmd
}

func describeKind(reg *plugin.Registry, kind string) error {
	plug, err := reg.New(kind)
	if err != nil {
		return err
	}
	manifest := plug.Manifest()

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	}

	fmt.Printf("%s (%s)\n", manifest.Name, manifest.Kind)
	if len(manifest.Ports) > 0 {
		fmt.Println("  ports:")
		for _, p := range manifest.Ports {
			fmt.Printf("    %-12s %-7s %s\n", p.Name, p.Direction, p.Type)
		}
	}
	if len(manifest.Variables) > 0 {
		fmt.Println("  variables:")
		for _, v := range manifest.Variables {
			line := fmt.Sprintf("    %-12s %-7s", v.Name, v.Type)
			if v.Required {
				line += " required"
			} else if v.Default != nil {
				line += fmt.Sprintf(" default=%v", v.Default)
			}
			if v.Constraints != "" {
				line += " " + v.Constraints
			}
			fmt.Println(line)
		}
	}
	return nil
}
