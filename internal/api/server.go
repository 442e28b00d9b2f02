// Package api is the router's HTTP surface: the signal webhook, the order
// status endpoint, and the supplementary operations endpoints (portfolio,
// positions, admin controls, Prometheus metrics, and a WebSocket stream of
// execution events).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kis-router/internal/config"
)

// Server runs the HTTP/WebSocket API.
type Server struct {
	cfg      config.ServerConfig
	provider Provider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the routes. registry carries the Prometheus collectors
// exposed on /metrics.
func NewServer(cfg config.ServerConfig, provider Provider, registry *prometheus.Registry, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfg, hub, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", handlers.HandleHealth)
	r.Post("/webhook", handlers.HandleWebhook)
	r.Get("/order/{order_id}", handlers.HandleOrderStatus)
	r.Get("/portfolio", handlers.HandlePortfolio)
	r.Get("/positions", handlers.HandlePositions)
	r.Get("/accounts/{account_id}", handlers.HandleAccount)
	r.Post("/admin/emergency-stop", handlers.HandleEmergencyStop)
	r.Post("/admin/resume", handlers.HandleResume)
	r.Post("/admin/orders/{order_id}/cancel", handlers.HandleCancelOrder)
	r.Get("/ws/events", handlers.HandleWebSocket)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
		// No WriteTimeout: a webhook request legitimately holds the
		// connection for the whole fill wait.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server and the event hub.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("api server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents reads execution events from the engine and broadcasts them.
func (s *Server) consumeEvents() {
	eventsCh := s.provider.Events()
	if eventsCh == nil {
		return
	}
	for evt := range eventsCh {
		s.hub.BroadcastEvent(evt)
	}
}
