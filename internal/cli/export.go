package cli

import (
	"github.com/spf13/cobra"

	"fx-deviation-monitor/internal/app"
)

var (
	exportColumn string
	exportMode   string
	exportSets   []string
	exportFormat string
	exportDir    string
	exportPNG    bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export dashboard result sets as CSV, JSON, MessagePack or PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Filter: filterOpts,
			Column: exportColumn,
			Mode:   exportMode,
			Sets:   exportSets,
			Format: exportFormat,
			Dir:    exportDir,
			PNG:    exportPNG,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportColumn, "column", "adjusted", "Threshold column to export")
	exportCmd.Flags().StringVar(&exportMode, "mode", "", "Dashboard mode: simplified or advanced (defaults to config)")
	exportCmd.Flags().StringSliceVar(&exportSets, "set", nil, "Result sets to export (defaults to all)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "csv, json, msgpack or png (defaults to config)")
	exportCmd.Flags().StringVar(&exportDir, "out", "", "Output directory (defaults to config)")
	exportCmd.Flags().BoolVar(&exportPNG, "png", false, "Also write a bar chart for each chartable set")
}
