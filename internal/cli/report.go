package cli

import (
	"github.com/spf13/cobra"

	"fx-deviation-monitor/internal/app"
)

var (
	reportColumn string
	reportMode   string
	reportSets   []string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the alert dashboard for one threshold column",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Report(cmd.Context(), app.ReportOptions{
			Filter: filterOpts,
			Column: reportColumn,
			Mode:   reportMode,
			Sets:   reportSets,
		})
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportColumn, "column", "adjusted", "Threshold column: original, proposed or adjusted")
	reportCmd.Flags().StringVar(&reportMode, "mode", "", "Dashboard mode: simplified or advanced (defaults to config)")
	reportCmd.Flags().StringSliceVar(&reportSets, "set", nil, "Result sets to print (defaults to all)")
}
