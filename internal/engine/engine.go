// Package engine is the central orchestrator of the execution router.
//
// It wires together all subsystems:
//
//  1. The account store loads and indexes the configured accounts.
//  2. The broker registry builds one KIS client per account (token cache,
//     rate limiter, circuit breaker, read cache).
//  3. The executor drives signals through validation, routing, sizing,
//     risk checks, and the order lifecycle.
//  4. Cron jobs roll the daily P&L ledger at midnight KST and sweep stale
//     broker cache entries.
//  5. The engine implements api.Provider, so the HTTP surface only ever
//     talks to this package.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"kis-router/internal/account"
	"kis-router/internal/api"
	"kis-router/internal/broker"
	"kis-router/internal/config"
	"kis-router/internal/executor"
	"kis-router/internal/metrics"
	"kis-router/internal/store"
	"kis-router/pkg/types"
)

// Engine owns every long-lived component and implements api.Provider.
type Engine struct {
	cfg      *config.Config
	accounts *account.Store
	brokers  *broker.Registry
	exec     *executor.Executor
	pnl      *store.Store
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	cron     *cron.Cron
	logger   *slog.Logger

	eventsMu     sync.Mutex
	events       chan api.ExecutionEvent
	eventsClosed bool
}

// New creates and wires all engine components.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	accounts, err := account.Load(cfg.AccountsJSON, logger)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}

	brokers := broker.NewRegistry(accounts, cfg.Broker.RealBaseURL, cfg.Broker.VirtualBaseURL, logger)

	pnl, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open pnl store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry)

	exec := executor.New(accounts, brokers, cfg, pnl, m, logger)

	e := &Engine{
		cfg:      cfg,
		accounts: accounts,
		brokers:  brokers,
		exec:     exec,
		pnl:      pnl,
		metrics:  m,
		registry: registry,
		cron:     cron.New(cron.WithLocation(kst())),
		events:   make(chan api.ExecutionEvent, 100),
		logger:   logger.With("component", "engine"),
	}
	exec.SetEventFunc(e.publishEvent)

	if err := e.scheduleJobs(); err != nil {
		return nil, err
	}
	return e, nil
}

func kst() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// scheduleJobs registers the midnight ledger rollover and the periodic
// broker cache sweep.
func (e *Engine) scheduleJobs() error {
	if _, err := e.cron.AddFunc("0 0 * * *", func() {
		if err := e.pnl.Rollover(e.accounts.IDs()); err != nil {
			e.logger.Error("pnl rollover failed", "error", err)
			return
		}
		e.logger.Info("daily pnl ledger rolled over")
	}); err != nil {
		return fmt.Errorf("schedule pnl rollover: %w", err)
	}

	if _, err := e.cron.AddFunc("@every 5m", func() {
		removed := e.brokers.SweepCaches(e.cfg.Broker.CacheSweepAge)
		if removed > 0 {
			e.metrics.CacheSweeps.Add(float64(removed))
			e.logger.Debug("broker caches swept", "removed", removed)
		}
	}); err != nil {
		return fmt.Errorf("schedule cache sweep: %w", err)
	}
	return nil
}

// Start launches the background jobs.
func (e *Engine) Start() error {
	e.cron.Start()
	e.logger.Info("engine started", "accounts", e.accounts.Len(), "strategies", len(e.cfg.Strategies))
	return nil
}

// Stop halts the background jobs and closes the event stream.
func (e *Engine) Stop() {
	ctx := e.cron.Stop()
	<-ctx.Done()
	e.closeEvents()
	if err := e.pnl.Close(); err != nil {
		e.logger.Error("pnl store close failed", "error", err)
	}
	e.logger.Info("engine stopped")
}

// MetricsRegistry exposes the Prometheus registry for the HTTP surface.
func (e *Engine) MetricsRegistry() *prometheus.Registry { return e.registry }

func (e *Engine) publishEvent(eventType string, data any) {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	if e.eventsClosed {
		// An execution still draining its fill wait may outlive the HTTP
		// shutdown timeout; its events are dropped, not sent on a closed
		// channel.
		return
	}
	select {
	case e.events <- api.NewExecutionEvent(eventType, data):
	default:
		// Stream consumers lagging must never block an execution.
	}
}

// closeEvents ends the stream exactly once; later publishes become no-ops.
func (e *Engine) closeEvents() {
	e.eventsMu.Lock()
	defer e.eventsMu.Unlock()
	if e.eventsClosed {
		return
	}
	e.eventsClosed = true
	close(e.events)
}

// ————————————————————————————————————————————————————————————————————————
// api.Provider
// ————————————————————————————————————————————————————————————————————————

func (e *Engine) ExecuteSignal(ctx context.Context, sig types.Signal) *types.ExecutionResult {
	result := e.exec.Execute(ctx, sig)
	outcome := "accepted"
	if !result.Success {
		outcome = string(result.ErrorType)
	}
	e.metrics.SignalsReceived.WithLabelValues(outcome).Inc()
	return result
}

func (e *Engine) OrderStatus(ctx context.Context, accountID, orderID string) (types.OrderDetail, error) {
	client, ok := e.brokers.Client(accountID)
	if !ok {
		return types.OrderDetail{}, fmt.Errorf("unknown account %s", accountID)
	}
	return client.GetOrderStatus(ctx, orderID)
}

func (e *Engine) CancelOrder(ctx context.Context, accountID, orderID, symbol string) error {
	client, ok := e.brokers.Client(accountID)
	if !ok {
		return fmt.Errorf("unknown account %s", accountID)
	}
	return client.CancelOrder(ctx, orderID, symbol)
}

func (e *Engine) EmergencyStop() { e.exec.EmergencyStop() }
func (e *Engine) Resume()        { e.exec.Resume() }
func (e *Engine) Stopped() bool  { return e.exec.Stopped() }

func (e *Engine) AccountIDs() []string { return e.accounts.IDs() }

func (e *Engine) AccountInfo(accountID string) (api.AccountInfo, bool) {
	acc, ok := e.accounts.ByID(accountID)
	if !ok {
		return api.AccountInfo{}, false
	}
	info := api.AccountInfo{
		ID:            acc.ID,
		Class:         acc.Class(),
		AccountNumber: maskAccountNumber(acc.AccountNumber),
		IsVirtual:     acc.IsVirtual,
		IsActive:      acc.IsActive,
	}
	if client, ok := e.brokers.Client(acc.ID); ok {
		info.TokenValid = client.TokenValid()
	}
	return info, true
}

func (e *Engine) Balance(ctx context.Context, accountID string) (types.Balance, types.ReadMeta, bool) {
	client, ok := e.brokers.Client(accountID)
	if !ok {
		return types.Balance{}, types.ReadMeta{}, false
	}
	bal, meta := client.GetBalance(ctx)
	return bal, meta, true
}

func (e *Engine) Positions(ctx context.Context, accountID string) ([]types.Position, types.ReadMeta, bool) {
	client, ok := e.brokers.Client(accountID)
	if !ok {
		return nil, types.ReadMeta{}, false
	}
	positions, meta := client.GetPositions(ctx)
	return positions, meta, true
}

func (e *Engine) Events() <-chan api.ExecutionEvent { return e.events }

// maskAccountNumber keeps the last four digits visible.
func maskAccountNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return "****" + number[len(number)-4:]
}
