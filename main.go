package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paykiosk/pkg/config"
	"paykiosk/pkg/errors"
	"paykiosk/pkg/logging"
)

// Version is set at build time
var Version = "dev"

var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "paykiosk",
		Short:        "Card payment kiosk controller",
		Version:      Version,
		SilenceUsage: true,
		RunE:         runKiosk,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/paykiosk/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errors.UserMessage(err, err.Error()))
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the kiosk controller and its control API",
		RunE:  runKiosk,
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "paykiosk", Version)
		},
	}
}

func runKiosk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("paykiosk starting",
		zap.String("version", Version),
		zap.String("gateway", cfg.Gateway.BaseURL),
		zap.String("reader", cfg.Reader.Mode),
		zap.String("cipher", cfg.Codec.Cipher))

	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	return app.Run(ctx)
}

// bootstrap loads the configuration and builds the logger
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrTypeConfig, "LOG_LEVEL_INVALID", "logger could not be built")
	}
	return cfg, logger, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
