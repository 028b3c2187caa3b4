package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "entity-resolver",
	Short: "Resolve free-text supplier and bank names to canonical entities",
	Long: "Normalizes raw supplier and bank names, ranks likely canonical matches with confidence tiers, " +
		"and learns aliases and per-pattern feedback from every recorded decision.",
	SilenceUsage: true,
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
