package main

import (
	"encoding/json"
	"fmt"

	"github.com/koios/esphome-designer/pkg/snippet"
	"github.com/spf13/cobra"
)

func newImportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "import <snippet.yaml|->",
		Short: "Reconstruct a layout from an ESPHome snippet",
		Long: `Parse a snippet produced by the designer, possibly hand-edited or
pasted into a larger config, and print the layout as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args[0])
			if err != nil {
				return fmt.Errorf("failed to read snippet: %w", err)
			}

			device, err := snippet.Parse(string(data))
			if err != nil {
				if kind, ok := snippet.KindOf(err); ok {
					return fmt.Errorf("%s (%w)", kind.Message(), err)
				}
				return err
			}

			out, err := json.MarshalIndent(device, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode layout: %w", err)
			}
			return writeOutput(cmd, output, append(out, '\n'))
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the layout to a file instead of stdout")
	return cmd
}

func init() {
	rootCmd.AddCommand(newImportCmd())
}
