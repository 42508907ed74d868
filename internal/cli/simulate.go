package cli

import (
	"github.com/spf13/cobra"

	"fx-deviation-monitor/internal/app"
)

var (
	simulateColumn    string
	simulateOverrides []string
	simulateCompare   string
	simulateNotify    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a what-if simulation with adjusted thresholds",
	Example: `  fxmon simulate --set E1/ALL=1.25 --set E2/EUR=0.8 --compare proposed
  fxmon simulate --column original --notify`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Filter:    filterOpts,
			Column:    simulateColumn,
			Overrides: simulateOverrides,
			Compare:   simulateCompare,
			Notify:    simulateNotify,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateColumn, "column", "adjusted", "Threshold column to simulate")
	simulateCmd.Flags().StringArrayVar(&simulateOverrides, "set", nil, "Adjusted threshold override ENTITY/SCOPE=VALUE (repeatable)")
	simulateCmd.Flags().StringVar(&simulateCompare, "compare", "", "Baseline column to compare against")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Send the result digest to the configured channel")
}
