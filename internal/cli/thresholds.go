package cli

import (
	"github.com/spf13/cobra"

	"fx-deviation-monitor/internal/app"
)

var thresholdsCmd = &cobra.Command{
	Use:   "thresholds",
	Short: "List the loaded alert thresholds",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Thresholds(cmd.Context(), app.ThresholdsOptions{Filter: filterOpts})
	},
}
