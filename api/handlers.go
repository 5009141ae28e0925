// Package api is the operator HTTP surface described in spec.md §6: a set
// of password-gated diagnostic and control endpoints over the Signal
// Engine, the transaction log, and the notifier's retained history.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/config"
	"github.com/mreyes/signalrunner/models"
	"github.com/mreyes/signalrunner/notify"
	"github.com/mreyes/signalrunner/signalengine"
	"github.com/mreyes/signalrunner/state"
)

// Handler carries every dependency the operator surface reads from or
// writes to.
type Handler struct {
	cfg       *config.Config
	engine    *signalengine.Engine
	store     *state.Store
	ring      *notify.RingSink
	startTime time.Time
}

func NewHandler(cfg *config.Config, engine *signalengine.Engine, store *state.Store, ring *notify.RingSink) *Handler {
	return &Handler{cfg: cfg, engine: engine, store: store, ring: ring, startTime: time.Now()}
}

// HealthHandler reports basic liveness.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(h.startTime).Seconds(),
		"timestamp":      time.Now().UTC(),
	})
}

// LogHandler serves GET /log and /log?db=N: the last N notifications the
// engine has emitted through the Notifier Hub, newest last.
func (h *Handler) LogHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "db", 0)
	if h.ring == nil {
		writeJSON(w, http.StatusOK, []models.Notification{})
		return
	}
	writeJSON(w, http.StatusOK, h.ring.Recent(limit))
}

// TransHandler serves GET /trans and /trans?db=N: the most recent rows of
// the append-only transaction log.
func (h *Handler) TransHandler(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "db", 200)
	if limit <= 0 {
		limit = 200
	}
	txs, err := h.store.ListTransactions(limit, "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "STORE_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// PnLHandler serves GET /pnl, ?reset=ASSET:mode, and ?topup=ASSET:wallet
// (spec.md §6, SPEC_FULL.md §4.18-§4.19).
func (h *Handler) PnLHandler(w http.ResponseWriter, r *http.Request) {
	if reset := r.URL.Query().Get("reset"); reset != "" {
		asset, mode, err := splitAssetMode(reset)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		h.engine.ResetBalanceHistory(asset, mode)
		writeJSON(w, http.StatusOK, map[string]string{"reset": reset})
		return
	}

	if topup := r.URL.Query().Get("topup"); topup != "" {
		asset, wallet, err := splitAssetWallet(topup)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}
		result, err := h.engine.TopUpFeeToken(r.Context(), asset, wallet)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error(), "TOPUP_FAILED")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order": result})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"bnb_reserve": h.engine.BNBState(),
		"reports":     h.engine.BalanceHistoryReports(r.Context()),
	})
}

// StrategiesHandler serves GET /strategies, ?stop=id, ?start=id, ?public=id.
func (h *Handler) StrategiesHandler(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("stop"); id != "" {
		if err := h.engine.SetStrategyStopped(id, true); err != nil {
			writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"stopped": id})
		return
	}
	if id := r.URL.Query().Get("start"); id != "" {
		if err := h.engine.SetStrategyStopped(id, false); err != nil {
			writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"started": id})
		return
	}
	if id := r.URL.Query().Get("public"); id != "" {
		if err := h.engine.TogglePublicStrategy(id); err != nil {
			writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"toggled_public": id})
		return
	}

	writeJSON(w, http.StatusOK, h.engine.Strategies())
}

// TradesHandler serves GET /trades and every operator mutation on an open
// trade (spec.md §6, §7 "OperatorConflict" / "SpecialCases").
func (h *Handler) TradesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	switch {
	case q.Get("hodl") != "":
		h.mutateTrade(w, q.Get("hodl"), "hodl", func(id string) error { return h.engine.SetTradeHodl(id, true) })
	case q.Get("release") != "":
		h.mutateTrade(w, q.Get("release"), "released", func(id string) error { return h.engine.SetTradeHodl(id, false) })
	case q.Get("stop") != "":
		h.mutateTrade(w, q.Get("stop"), "stopped", func(id string) error { return h.engine.SetTradeStopped(id, true) })
	case q.Get("start") != "":
		h.mutateTrade(w, q.Get("start"), "started", func(id string) error { return h.engine.SetTradeStopped(id, false) })
	case q.Get("delete") != "":
		h.mutateTrade(w, q.Get("delete"), "deleted", h.engine.DeleteTrade)
	case q.Get("close") != "":
		id := q.Get("close")
		if err := h.engine.ManualClose(r.Context(), id); err != nil {
			writeOperatorError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"closing": id})
	default:
		writeJSON(w, http.StatusOK, h.engine.Trades())
	}
}

func (h *Handler) mutateTrade(w http.ResponseWriter, id, verb string, mutate func(string) error) {
	if err := mutate(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{verb: id})
}

// VirtualHandler serves GET /virtual and ?reset=true|<number> (spec.md §4.5).
func (h *Handler) VirtualHandler(w http.ResponseWriter, r *http.Request) {
	if reset := r.URL.Query().Get("reset"); reset != "" {
		amount := h.cfg.VirtualWalletFunds
		if reset != "true" {
			parsed, err := models.NewDecimalFromString(reset)
			if err != nil {
				writeError(w, http.StatusBadRequest, "reset must be 'true' or a number", "BAD_REQUEST")
				return
			}
			amount = parsed
		}
		h.engine.ResetVirtualBalances(amount)
		writeJSON(w, http.StatusOK, map[string]string{"reset_to": amount.String()})
		return
	}
	writeJSON(w, http.StatusOK, h.engine.VirtualBalances())
}

// GraphHandler serves GET /graph.html?summary=ASSET:mode: a minimal HTML
// page showing the aggregate PnL summary for one (mode, quote) ledger, for
// a human operator glancing at the dashboard.
func (h *Handler) GraphHandler(w http.ResponseWriter, r *http.Request) {
	summary := r.URL.Query().Get("summary")
	if summary == "" {
		writeError(w, http.StatusBadRequest, "summary=ASSET:mode is required", "BAD_REQUEST")
		return
	}
	asset, mode, err := splitAssetMode(summary)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}

	reports := h.engine.BalanceHistoryReports(r.Context())
	var matched *string
	for _, rep := range reports {
		if rep.QuoteAsset == asset && rep.TradingMode == mode {
			body, _ := json.Marshal(rep)
			s := string(body)
			matched = &s
			break
		}
	}
	if matched == nil {
		writeError(w, http.StatusNotFound, "no balance history for that (mode, quote) pair", "NOT_FOUND")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html><html><head><title>%s/%s summary</title></head>`+
		`<body><h1>%s / %s</h1><pre>%s</pre></body></html>`, asset, mode, asset, mode, *matched)
}

func splitAssetMode(raw string) (asset string, mode models.TradingMode, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected ASSET:mode, got %q", raw)
	}
	return parts[0], models.TradingMode(parts[1]), nil
}

func splitAssetWallet(raw string) (asset string, wallet models.Wallet, err error) {
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected ASSET:wallet, got %q", raw)
	}
	wallet = models.Wallet(parts[1])
	if wallet != models.WalletSpot && wallet != models.WalletMargin {
		return "", "", fmt.Errorf("unknown wallet %q", parts[1])
	}
	return parts[0], wallet, nil
}

func writeOperatorError(w http.ResponseWriter, err error) {
	if sigErr, ok := err.(*models.SignalError); ok && sigErr.Kind == models.OperatorConflict {
		writeError(w, http.StatusConflict, sigErr.Reason, "OPERATOR_CONFLICT")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("failed to write JSON response")
	}
}

// apiError is the shape of every error body the operator surface returns.
type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, message string, code string) {
	writeJSON(w, status, apiError{Error: message, Code: code})
}
