package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kjstillabower/pipeline-live-service/internal/config"
	"github.com/kjstillabower/pipeline-live-service/internal/observability"
	"github.com/kjstillabower/pipeline-live-service/internal/probe"
)

var (
	probeURL       string
	probeMarker    string
	probeTimeout   time.Duration
	probeAttempts  int
	probeBaseDelay time.Duration
	probeMaxDelay  time.Duration
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Smoke-check a running instance",
	Long: `Request GET / on a running instance and fail unless it answers 2xx
with the liveness marker in the body. Use after a deploy.

Exit status is non-zero on any failure.`,
	Example: `  pipeline-live-service probe --url https://live.example.com
  pipeline-live-service probe --url http://localhost:8080 --attempts 5`,
	RunE: runProbe,
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probeURL, "url", "http://localhost:8080", "base URL of the instance")
	f.StringVar(&probeMarker, "marker", config.DefaultMarker, "text the body must contain")
	f.DurationVar(&probeTimeout, "timeout", 5*time.Second, "per-attempt timeout")
	f.IntVar(&probeAttempts, "attempts", 1, "total attempts before giving up")
	f.DurationVar(&probeBaseDelay, "retry-base-delay", 200*time.Millisecond, "first retry delay, doubled each retry")
	f.DurationVar(&probeMaxDelay, "retry-max-delay", 2*time.Second, "retry delay cap")
}

func runProbe(cmd *cobra.Command, args []string) error {
	logger, err := observability.NewLogger()
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	p, err := probe.New(probe.Config{
		BaseURL:   probeURL,
		Marker:    probeMarker,
		Timeout:   probeTimeout,
		Attempts:  probeAttempts,
		BaseDelay: probeBaseDelay,
		MaxDelay:  probeMaxDelay,
	}, logger)
	if err != nil {
		return err
	}

	res, err := p.Run(contextOrBackground(cmd))
	if err != nil {
		logger.Error("probe failed", zap.String("target", p.Target()), zap.Error(err))
		return fmt.Errorf("probe %s: %w", p.Target(), err)
	}
	logger.Info("probe passed",
		zap.String("target", p.Target()),
		zap.Int("status", res.StatusCode),
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", res.Duration),
		zap.String("correlation_id", res.CorrelationID))
	fmt.Fprintf(cmd.OutOrStdout(), "OK %s (%d) in %s\n", p.Target(), res.StatusCode, res.Duration.Round(time.Millisecond))
	return nil
}
