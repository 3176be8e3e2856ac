// Package server assembles the router and runs the HTTP server with the
// graceful shutdown sequence: flag shutting-down, stop accepting, drain in-flight, flush logs.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/pipeline-live-service/internal/config"
	"github.com/kjstillabower/pipeline-live-service/internal/health"
	httphandler "github.com/kjstillabower/pipeline-live-service/internal/http"
	"github.com/kjstillabower/pipeline-live-service/internal/lifecycle"
	"github.com/kjstillabower/pipeline-live-service/internal/observability"
	"github.com/kjstillabower/pipeline-live-service/internal/traffic"
)

// Server is one configured instance of the service.
type Server struct {
	cfg       *config.Config
	logger    *zap.Logger
	router    *mux.Router
	srv       *http.Server
	traffic   *traffic.Tracker
	lifecycle *lifecycle.State
	inFlight  *httphandler.InFlightTracker
}

// New wires the handler, middleware and routes for cfg. It does not listen.
func New(cfg *config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		traffic:   traffic.NewTracker(trackerRetention(cfg)),
		lifecycle: lifecycle.New(time.Now()),
		inFlight:  &httphandler.InFlightTracker{},
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	handler := httphandler.NewHandler(httphandler.Options{
		Marker:  cfg.Marker,
		Version: cfg.Version,
		Health: health.Config{
			OverloadWindow:         cfg.OverloadWindow,
			OverloadThresholdPct:   cfg.OverloadThresholdPct,
			RateLimitRPS:           cfg.RateLimitRPS,
			IdleWindow:             cfg.IdleWindow,
			IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
			MinimumLifespan:        cfg.MinimumLifespan,
			DegradedWindow:         cfg.DegradedWindow,
			DegradedErrorPct:       cfg.DegradedErrorPct,
		},
		Traffic:     s.traffic,
		Lifecycle:   s.lifecycle,
		RateLimiter: limiter,
		Logger:      logger,
	})
	observability.RegisterWindowGauges(s.traffic, cfg.OverloadWindow)

	// mux applies Use middleware to matched routes only, so the 404 and 405
	// handlers are wrapped in the same chain explicitly.
	chain := []mux.MiddlewareFunc{
		httphandler.CorrelationIDMiddleware(logger),
		httphandler.InFlightMiddleware(s.inFlight),
		httphandler.MetricsMiddleware,
		httphandler.TrafficMiddleware(s.traffic),
		httphandler.RecoverMiddleware(logger, cfg.TestingMode),
	}
	router := mux.NewRouter()
	router.NotFoundHandler = wrap(http.HandlerFunc(httphandler.NotFound), chain)
	router.MethodNotAllowedHandler = wrap(http.HandlerFunc(httphandler.MethodNotAllowed), chain)
	router.Use(chain...)

	router.HandleFunc("/health", handler.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	rootRouter := router.Path("/").Subrouter()
	rootRouter.Use(httphandler.RateLimitMiddleware(limiter))
	rootRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	rootRouter.Methods(http.MethodGet, http.MethodHead).HandlerFunc(handler.GetRoot)

	if cfg.TestingMode {
		logger.Warn("Testing mode enabled; /test endpoint exposed")
		router.HandleFunc("/test", handler.GetTestStatus).Methods(http.MethodGet)
		router.HandleFunc("/test/{action}", handler.PostTestAction).Methods(http.MethodPost)
	}

	s.router = router
	s.srv = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Handler returns the assembled router for in-process clients.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Lifecycle returns the phase state shared with the health endpoint.
func (s *Server) Lifecycle() *lifecycle.State {
	return s.lifecycle
}

// wrap applies chain to h in the order mux uses: the first entry is outermost.
func wrap(h http.Handler, chain []mux.MiddlewareFunc) http.Handler {
	for i := len(chain) - 1; i >= 0; i-- {
		h = chain[i].Middleware(h)
	}
	return h
}

// trackerRetention keeps traffic for at least the longest health window.
func trackerRetention(cfg *config.Config) time.Duration {
	return max(traffic.DefaultRetention, cfg.OverloadWindow, cfg.IdleWindow, cfg.DegradedWindow)
}

// ListenAndServe listens on the configured port and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully. It returns
// nil after a clean shutdown and the serve error if the listener fails first.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", ln.Addr().String()))
		serveErr <- s.srv.Serve(ln)
	}()
	s.lifecycle.SetPhase(lifecycle.Serving)

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("graceful shutdown triggered")
	s.lifecycle.SetPhase(lifecycle.ShuttingDown)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown", zap.Error(err))
	}
	<-serveErr

	inFlight := s.inFlight.Count()
	s.logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := s.inFlight.WaitForZero(waitCtx, s.cfg.ShutdownInFlightCheckInterval); err != nil {
		s.logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", s.inFlight.Count()))
	}

	if err := observability.FlushTelemetry(context.Background(), s.logger); err != nil {
		s.logger.Error("telemetry flush", zap.Error(err))
	}
	s.logger.Info("shutdown complete")
	return nil
}
