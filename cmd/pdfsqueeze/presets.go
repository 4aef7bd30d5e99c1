package main

import (
	"github.com/spf13/cobra"

	"github.com/jonathan/pdfsqueeze/internal/config"
	"github.com/jonathan/pdfsqueeze/internal/observability"
)

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "List compression presets and the search ladder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		p := observability.NewPrinter(cmd.OutOrStdout())
		p.PrintPresets(cfg.Compression.Presets)
		p.PrintLadder(cfg.Ladder(), cfg.Compression.MaxAttempts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(presetsCmd)
}
