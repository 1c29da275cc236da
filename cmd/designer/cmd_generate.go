package main

import (
	"fmt"

	"github.com/koios/esphome-designer/pkg/models"
	"github.com/koios/esphome-designer/pkg/snippet"
	"github.com/spf13/cobra"
)

type generateOptions struct {
	output string
	snippet.Options
}

func newGenerateCmd() *cobra.Command {
	opts := &generateOptions{}
	def := snippet.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "generate <layout.json|->",
		Short: "Render a layout as an ESPHome snippet",
		Long: `Read a layout in the editor's JSON format and print the ESPHome
configuration snippet for it. Use "-" to read the layout from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, args[0], opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.output, "output", "o", "", "write the snippet to a file instead of stdout")
	flags.StringVar(&opts.DisplayPlatform, "platform", def.DisplayPlatform, "display platform")
	flags.StringVar(&opts.DisplayModel, "model", def.DisplayModel, "display model")
	flags.StringVar(&opts.UpdateInterval, "update-interval", def.UpdateInterval, "display update interval")
	flags.StringVar(&opts.FontFile, "font-file", def.FontFile, "font file or gfonts:// reference")
	flags.IntVar(&opts.FontSize, "font-size", def.FontSize, "font size in pixels")
	flags.StringToStringVar(&opts.DisplayPins, "pin", nil, "display pin assignment, e.g. --pin cs_pin=GPIO10")
	return cmd
}

func runGenerate(cmd *cobra.Command, path string, opts *generateOptions) error {
	data, err := readInput(cmd, path)
	if err != nil {
		return fmt.Errorf("failed to read layout: %w", err)
	}

	device, err := models.DecodeDevice(data)
	if err != nil {
		return err
	}

	text, err := snippet.NewGenerator(opts.Options).Generate(device)
	if err != nil {
		return err
	}
	return writeOutput(cmd, opts.output, []byte(text))
}

func init() {
	rootCmd.AddCommand(newGenerateCmd())
}
