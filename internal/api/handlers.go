package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"kis-router/internal/config"
	"kis-router/pkg/types"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider Provider
	cfg      config.ServerConfig
	hub      *Hub
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance.
func NewHandlers(provider Provider, cfg config.ServerConfig, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider: provider,
		cfg:      cfg,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, ErrorType: errType})
}

// HandleHealth returns a simple health check response.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// HandleWebhook receives one trading signal and executes it synchronously.
// The response status encodes the failure class: 400 validation or risk,
// 401 unknown token, 403 inactive account or strategy, 503 emergency stop,
// 500 broker or internal failure.
func (h *Handlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var sig types.Signal
	if err := json.NewDecoder(r.Body).Decode(&sig); err != nil {
		writeError(w, http.StatusBadRequest, string(types.ErrValidation), "malformed signal body: "+err.Error())
		return
	}
	sig.ReceivedAt = time.Now()

	result := h.provider.ExecuteSignal(r.Context(), sig)
	writeJSON(w, statusForResult(result), WebhookResponse{
		Success:     result.Success,
		OrderID:     result.OrderID,
		CloseID:     result.CloseID,
		Filled:      result.Filled,
		ExecutionID: result.ExecutionID,
		Error:       result.Error,
		ErrorType:   string(result.ErrorType),
		Timestamp:   result.Timestamp,
	})
}

// statusForResult maps an execution outcome onto an HTTP status code.
func statusForResult(result *types.ExecutionResult) int {
	if result.Success {
		return http.StatusOK
	}
	switch result.ErrorType {
	case types.ErrValidation:
		switch result.Error {
		case types.ReasonUnknownToken:
			return http.StatusUnauthorized
		case types.ReasonAccountInactive, types.ReasonStrategyInactive:
			return http.StatusForbidden
		}
		return http.StatusBadRequest
	case types.ErrRisk:
		return http.StatusBadRequest
	case types.ErrEmergencyStop:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HandleOrderStatus reports the canonical status of one order.
func (h *Handlers) HandleOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, string(types.ErrValidation), "account_id query parameter is required")
		return
	}
	if _, ok := h.provider.AccountInfo(accountID); !ok {
		writeError(w, http.StatusNotFound, string(types.ErrValidation), "unknown account "+accountID)
		return
	}

	detail, err := h.provider.OrderStatus(r.Context(), accountID, orderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(types.ErrBroker), err.Error())
		return
	}
	switch detail.Status {
	case types.StatusNotFound:
		writeJSON(w, http.StatusNotFound, detail)
	case types.StatusInvalid:
		writeJSON(w, http.StatusBadRequest, detail)
	default:
		writeJSON(w, http.StatusOK, detail)
	}
}

// HandleEmergencyStop engages the process-wide halt.
func (h *Handlers) HandleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	h.provider.EmergencyStop()
	writeJSON(w, http.StatusOK, map[string]bool{"emergency_stop": true})
}

// HandleResume lifts the halt.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.provider.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"emergency_stop": false})
}

// HandlePortfolio returns the aggregated per-account summary.
func (h *Handlers) HandlePortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildPortfolio(r.Context(), h.provider))
}

// HandlePositions returns positions for one account, or all accounts when
// account_id is absent.
func (h *Handlers) HandlePositions(w http.ResponseWriter, r *http.Request) {
	ids := h.provider.AccountIDs()
	if accountID := r.URL.Query().Get("account_id"); accountID != "" {
		if _, ok := h.provider.AccountInfo(accountID); !ok {
			writeError(w, http.StatusNotFound, string(types.ErrValidation), "unknown account "+accountID)
			return
		}
		ids = []string{accountID}
	}

	out := make([]AccountPositions, 0, len(ids))
	for _, id := range ids {
		positions, meta, ok := h.provider.Positions(r.Context(), id)
		if !ok {
			continue
		}
		out = append(out, AccountPositions{
			AccountID: id,
			Positions: positions,
			Status:    meta.Status,
			CacheAge:  meta.CacheAge.Seconds(),
			Error:     meta.Err,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleAccount returns the sanitized record for one account.
func (h *Handlers) HandleAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "account_id")
	info, ok := h.provider.AccountInfo(accountID)
	if !ok {
		writeError(w, http.StatusNotFound, string(types.ErrValidation), "unknown account "+accountID)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleCancelOrder forwards a cancel to the broker. symbol is required for
// overseas accounts, whose cancel endpoint needs the original product.
func (h *Handlers) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeError(w, http.StatusBadRequest, string(types.ErrValidation), "account_id query parameter is required")
		return
	}
	if _, ok := h.provider.AccountInfo(accountID); !ok {
		writeError(w, http.StatusNotFound, string(types.ErrValidation), "unknown account "+accountID)
		return
	}
	symbol := r.URL.Query().Get("symbol")

	if err := h.provider.CancelOrder(r.Context(), accountID, orderID, symbol); err != nil {
		writeError(w, http.StatusInternalServerError, string(types.ErrBroker), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "status": "cancel_requested"})
}

// HandleWebSocket upgrades the connection and subscribes it to the
// execution event stream. An optional comma-separated "types" parameter
// narrows the subscription to the named event types.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), h.cfg, r.Host)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	var filter []string
	if raw := r.URL.Query().Get("types"); raw != "" {
		filter = strings.Split(raw, ",")
	}
	h.hub.Subscribe(conn, filter)
}

// isOriginAllowed decides whether a WebSocket origin may connect. With no
// allowlist configured, same-host and localhost origins are accepted;
// otherwise only exact allowlist matches are.
func isOriginAllowed(origin string, cfg config.ServerConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			if origin == allowed {
				return true
			}
		}
		return false
	}

	host := origin
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	if host == reqHost {
		return true
	}
	bare := host
	if i := strings.IndexByte(bare, ':'); i >= 0 {
		bare = bare[:i]
	}
	return bare == "localhost" || bare == "127.0.0.1"
}
