package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"fx-deviation-monitor/internal/app"
	"fx-deviation-monitor/internal/config"
	"fx-deviation-monitor/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App

	filterOpts app.FilterOptions
)

var rootCmd = &cobra.Command{
	Use:           "fxmon",
	Short:         "Analyse FX trade price deviations against alert thresholds",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil || cmd == versionCmd {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.PersistentFlags().StringVar(&filterOpts.From, "from", "", "First business date (YYYY-MM-DD, inclusive)")
	rootCmd.PersistentFlags().StringVar(&filterOpts.To, "to", "", "Last business date (YYYY-MM-DD, inclusive)")
	rootCmd.PersistentFlags().StringSliceVar(&filterOpts.ProductTypes, "product", nil, "Product types to include (SPOT, FORWARD, SWAP, OPTION)")
	rootCmd.PersistentFlags().StringSliceVar(&filterOpts.LegalEntities, "entity", nil, "Legal entities to include")
	rootCmd.PersistentFlags().StringSliceVar(&filterOpts.SourceSystems, "source", nil, "Source systems to include")

	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(thresholdsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
