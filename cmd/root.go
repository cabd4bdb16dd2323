package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/homeside-repairs/estimate-worker/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "estimate-worker",
	Short: "Home inspection estimate pipeline",
	Long:  "Claims queued estimate jobs, extracts repair findings from inspection PDFs via tiered Claude models, prices them against the company catalog, and emails the result.",
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
