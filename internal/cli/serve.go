package cli

import (
	"github.com/spf13/cobra"

	"fx-deviation-monitor/internal/app"
)

var serveMode string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), app.ServeOptions{Filter: filterOpts, Mode: serveMode})
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Dashboard mode: simplified or advanced (defaults to config)")
}
