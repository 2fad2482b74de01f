package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cobridge/cobridge/internal/breaker"
	"github.com/cobridge/cobridge/internal/config"
	"github.com/cobridge/cobridge/internal/handlers"
	"github.com/cobridge/cobridge/internal/middleware"
	"github.com/cobridge/cobridge/internal/usage"
)

type Server struct {
	config   *config.Manager
	breakers *breaker.Registry
	usage    *usage.Recorder
	logger   *slog.Logger
	server   *http.Server
}

func New(configManager *config.Manager, logger *slog.Logger) *Server {
	cfg := configManager.Get()

	breakers := breaker.NewRegistry(breaker.Settings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          time.Duration(cfg.Breaker.TimeoutSeconds) * time.Second,
	})

	recorder := usage.NewRecorder(logger)
	for _, p := range cfg.Providers {
		if p.InputCostPerM > 0 || p.OutputCostPerM > 0 {
			recorder.SetPricing(p.Name, usage.Pricing{
				InputPerM:  p.InputCostPerM,
				OutputPerM: p.OutputCostPerM,
			})
		}
	}

	return &Server{
		config:   configManager,
		breakers: breakers,
		usage:    recorder,
		logger:   logger,
	}
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	mux := s.setupRoutes()

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	s.logger.Info("Starting server", "address", addr)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")

	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	proxyHandler := handlers.NewProxyHandler(s.config, s.breakers, s.usage, s.logger)
	healthHandler := handlers.NewHealthHandler(s.breakers, s.logger)
	breakersHandler := handlers.NewBreakersHandler(s.breakers, s.logger)

	middlewareSet := middleware.NewMiddlewareSet(s.config, s.logger)
	defaultChain := middlewareSet.DefaultChain()

	mux.Handle("/health", middlewareSet.HealthChain().Handler(healthHandler))
	mux.Handle("GET /breakers", defaultChain.Handler(http.HandlerFunc(breakersHandler.List)))
	mux.Handle("POST /breakers/{name}/reset", defaultChain.Handler(http.HandlerFunc(breakersHandler.Reset)))
	mux.Handle("/", defaultChain.Handler(proxyHandler))

	return mux
}
