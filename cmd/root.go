package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/waxworks/trackline/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "trackline",
	Short: "Waterfall enrichment engine for music metadata",
	Long:  "Enriches scraped track, playlist, and artist records field by field through ranked, confidence-thresholded provider waterfalls, with full provenance and deterministic replay.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
