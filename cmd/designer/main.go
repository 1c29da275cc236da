package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "designer",
	Short: "ESPHome designer - dashboard layout tooling",
	Long: `designer converts dashboard layouts to ESPHome snippets and back,
and follows layout changes published by the designer server.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
