// Command checkout runs the smart trolley self-checkout server and its
// maintenance tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/smart-trolley/checkout-server/internal/config"
	"github.com/dj-oyu/smart-trolley/checkout-server/internal/logger"
)

var (
	configPath string
	logLevel   string
	logColor   bool

	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:           "checkout",
	Short:         "Smart trolley self-checkout server",
	Long:          `checkout streams an annotated webcam feed, recognizes catalog products and keeps the shopping cart.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-color") {
			cfg.Log.Color = logColor
		}
		return initLogger(cfg.Log)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	rootCmd.PersistentFlags().BoolVar(&logColor, "log-color", true, "Enable colored log output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(receiptsCmd)
}

func initLogger(lc config.LogConfig) error {
	level, err := logger.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if lc.File != "" {
		logger.SetDefault(logger.NewWithFile(level, os.Stderr, lc.Color, logger.RotatingFile(lc.File)))
		return nil
	}
	logger.SetDefault(logger.New(level, os.Stderr, lc.Color))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
