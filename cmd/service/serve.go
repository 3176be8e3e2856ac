package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/pipeline-live-service/internal/config"
	"github.com/kjstillabower/pipeline-live-service/internal/observability"
	"github.com/kjstillabower/pipeline-live-service/internal/server"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server until SIGINT or SIGTERM",
	Long: `Run the HTTP server.

Configuration comes from config/{ENV_NAME}.yaml in the working directory
(ENV_NAME defaults to dev) unless --config names a file. SERVER_PORT and
TESTING_MODE override the file.`,
	RunE: runServe,
}

func init() {
	// The root command also serves, so it takes the same flag.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", "", "path to a YAML config file")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		logger.Error("config", zap.Error(err))
		return err
	}
	if cfg.Version == "dev" {
		cfg.Version = version
	}
	logger.Info("config loaded",
		zap.String("port", cfg.ServerPort),
		zap.Bool("testing_mode", cfg.TestingMode),
		zap.Int("rate_limit_rps", cfg.RateLimitRPS))

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, logger).ListenAndServe(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// contextOrBackground guards commands executed without ExecuteContext.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
