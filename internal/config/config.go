package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMarker is the text the root route must always contain.
const DefaultMarker = "Zero-Trust Azure DevSecOps Pipeline is Live!"

// Config holds service configuration loaded from YAML and env.
type Config struct {
	TestingMode bool

	ServerPort string
	Version    string

	// Marker is served verbatim by GET /.
	Marker string

	RequestTimeout time.Duration
	RateLimitRPS   int // 0 disables the limiter
	RateLimitBurst int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
	DegradedWindow         time.Duration
	DegradedErrorPct       int
}

type fileConfig struct {
	TestingMode *bool `yaml:"testing_mode"`

	Server struct {
		Port    string `yaml:"port"`
		Version string `yaml:"version"`
		Marker  string `yaml:"marker"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Reliability struct {
		RateLimitRPS   *int `yaml:"rate_limit_rps"`
		RateLimitBurst int  `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow         string `yaml:"overload_window"`
		OverloadThresholdPct   int    `yaml:"overload_threshold_pct"`
		IdleThresholdReqPerMin int    `yaml:"idle_threshold_req_per_min"`
		IdleWindow             string `yaml:"idle_window"`
		MinimumLifespan        string `yaml:"minimum_lifespan"`
		DegradedWindow         string `yaml:"degraded_window"`
		DegradedErrorPct       int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		ServerPort:                    "8080",
		Version:                       "dev",
		Marker:                        DefaultMarker,
		RequestTimeout:                5 * time.Second,
		RateLimitRPS:                  100,
		RateLimitBurst:                250,
		ShutdownTimeout:               30 * time.Second,
		ShutdownInFlightTimeout:       10 * time.Second,
		ShutdownInFlightCheckInterval: 100 * time.Millisecond,
		OverloadWindow:                60 * time.Second,
		OverloadThresholdPct:          80,
		IdleWindow:                    5 * time.Minute,
		IdleThresholdReqPerMin:        5,
		MinimumLifespan:               5 * time.Minute,
		DegradedWindow:                60 * time.Second,
		DegradedErrorPct:              5,
	}
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) relative to the
// working directory, then applies SERVER_PORT and TESTING_MODE env overrides. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "config", env+".yaml"))
}

// LoadFile reads configuration from an explicit YAML path, then applies env overrides.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()
	if fc.TestingMode != nil {
		cfg.TestingMode = *fc.TestingMode
	}
	if v, ok := os.LookupEnv("TESTING_MODE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("TESTING_MODE: %w", err)
		}
		cfg.TestingMode = b
	}

	if p := strings.TrimSpace(os.Getenv("SERVER_PORT")); p != "" {
		cfg.ServerPort = p
	} else if p := strings.TrimSpace(fc.Server.Port); p != "" {
		cfg.ServerPort = p
	}
	if v := strings.TrimSpace(fc.Server.Version); v != "" {
		cfg.Version = v
	}
	if fc.Server.Marker != "" {
		cfg.Marker = fc.Server.Marker
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, cfg.RequestTimeout)
	if fc.Reliability.RateLimitRPS != nil {
		cfg.RateLimitRPS = *fc.Reliability.RateLimitRPS
	}
	if fc.Reliability.RateLimitBurst > 0 {
		cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, cfg.ShutdownTimeout)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, cfg.ShutdownInFlightTimeout)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, cfg.ShutdownInFlightCheckInterval)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, cfg.OverloadWindow)
	if fc.Lifecycle.OverloadThresholdPct != 0 {
		cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	}
	if fc.Lifecycle.IdleThresholdReqPerMin > 0 {
		cfg.IdleThresholdReqPerMin = fc.Lifecycle.IdleThresholdReqPerMin
	}
	cfg.IdleWindow = parseDuration(fc.Lifecycle.IdleWindow, cfg.IdleWindow)
	cfg.MinimumLifespan = parseDuration(fc.Lifecycle.MinimumLifespan, cfg.MinimumLifespan)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, cfg.DegradedWindow)
	if fc.Lifecycle.DegradedErrorPct != 0 {
		cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if it is empty,
// malformed, or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

// Validate checks a Config for values the server cannot run with.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Marker) == "" {
		return fmt.Errorf("server.marker must not be empty")
	}
	port, err := strconv.Atoi(cfg.ServerPort)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("server.port must be a number in 0..65535, got %q", cfg.ServerPort)
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("reliability.rate_limit_rps must not be negative, got %d", cfg.RateLimitRPS)
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		return fmt.Errorf("reliability.rate_limit_burst must be positive when rate limiting is enabled")
	}
	if cfg.OverloadThresholdPct < 1 || cfg.OverloadThresholdPct > 100 {
		return fmt.Errorf("lifecycle.overload_threshold_pct must be in 1..100, got %d", cfg.OverloadThresholdPct)
	}
	if cfg.DegradedErrorPct < 1 || cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("lifecycle.degraded_error_pct must be in 1..100, got %d", cfg.DegradedErrorPct)
	}
	return nil
}
