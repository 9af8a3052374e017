// Package httpapi exposes the progression core as a REST API consumed by the
// mini app's presentation layer.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	app "github.com/Elevate-App/progression_layer/internal/app"
	"github.com/Elevate-App/progression_layer/internal/app/domain/growth"
	"github.com/Elevate-App/progression_layer/internal/app/domain/ledger"
	"github.com/Elevate-App/progression_layer/internal/app/domain/task"
	"github.com/Elevate-App/progression_layer/internal/app/services/levelwatch"
	"github.com/Elevate-App/progression_layer/internal/app/services/tasks"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a mux exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	mux := http.NewServeMux()
	mux.HandleFunc("/users", h.users)
	mux.HandleFunc("/users/", h.userResources)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func (h *handler) users(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Onboarding hook for the identity collaborator: provisions the zeroed
	// balance record.
	var payload struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	bal, err := h.app.Ledger.CreateBalance(r.Context(), payload.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, balancePayload(bal))
}

func (h *handler) userResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/users"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := parts[0]
	if len(parts) == 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "balance":
		h.userBalance(w, r, userID, parts[2:])
	case "projection":
		h.userProjection(w, r, userID)
	case "tasks":
		h.userTasks(w, r, userID, parts[2:])
	case "levelup":
		h.userLevelUp(w, r, userID, parts[2:])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) userBalance(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		bal, err := h.app.Ledger.GetBalance(r.Context(), userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, balancePayload(bal))
		return
	}

	switch rest[0] {
	case "topup":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		amount, err := decodeAmount(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		bal, err := h.app.Ledger.TopUpWallet(r.Context(), userID, amount)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, balancePayload(bal))

	case "transfer":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		amount, err := decodeAmount(r.Body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		bal, err := h.app.Ledger.TransferWalletToCore(r.Context(), userID, amount)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, balancePayload(bal))

	case "reinvest":
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var payload struct {
			Percentage int `json:"percentage"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		bal, err := h.app.Ledger.SetReinvestPercentage(r.Context(), userID, payload.Percentage)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, balancePayload(bal))

	case "transactions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		txs, err := h.app.Ledger.ListTransactions(r.Context(), userID, limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(txs))
		for _, tx := range txs {
			payload = append(payload, map[string]any{
				"id":           tx.ID,
				"type":         tx.Type,
				"wallet_delta": tx.WalletDelta.String(),
				"core_delta":   tx.CoreDelta.String(),
				"wallet_after": tx.WalletAfter.String(),
				"core_after":   tx.CoreAfter.String(),
				"reference":    tx.Reference,
				"created_at":   tx.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) userProjection(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	bal, err := h.app.Ledger.GetBalance(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	rate, _ := h.app.Ledger.DailyRate().Float64()
	startCore, _ := bal.Core.Float64()
	dailyReward := 0.0
	if raw := r.URL.Query().Get("daily_reward"); raw != "" {
		if dailyReward, err = strconv.ParseFloat(raw, 64); err != nil || dailyReward < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid daily_reward"))
			return
		}
	}

	if raw := r.URL.Query().Get("target"); raw != "" {
		target, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid target"))
			return
		}
		days, err := growth.DaysToReachTarget(target, startCore, dailyReward, rate, growth.DefaultMaxDays)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"target": target, "days": days})
		return
	}

	days := 365.0
	if raw := r.URL.Query().Get("days"); raw != "" {
		if days, err = strconv.ParseFloat(raw, 64); err != nil || days < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid days"))
			return
		}
	}
	projected := growth.ProjectCoreAtDay(startCore, dailyReward, rate, days)
	writeJSON(w, http.StatusOK, map[string]any{"days": days, "projected_core": projected})
}

func (h *handler) userTasks(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		assignments, err := h.app.Tasks.ListAssignments(r.Context(), userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, assignments)
		return
	}

	taskNumber, err := strconv.Atoi(rest[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid task number %q", rest[0]))
		return
	}
	if len(rest) < 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	switch rest[1] {
	case "assign":
		asn, err := h.app.Tasks.Assign(r.Context(), userID, taskNumber)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, asn)

	case "start":
		asn, err := h.app.Tasks.StartTask(r.Context(), userID, taskNumber)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, asn)

	case "verify":
		var payload struct {
			GoalCount    int               `json:"goal_count"`
			FeaturesUsed map[string]bool   `json:"features_used"`
			Profile      map[string]string `json:"profile"`
		}
		if err := decodeJSON(r.Body, &payload); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		result, err := h.app.Tasks.Verify(r.Context(), userID, taskNumber, tasks.Snapshot{
			GoalCount:    payload.GoalCount,
			FeaturesUsed: payload.FeaturesUsed,
			Profile:      payload.Profile,
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": result.Success,
			"message": result.Message,
		})

	case "complete":
		result, err := h.app.Tasks.CompleteTask(r.Context(), userID, taskNumber)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"reward":   result.Reward.String(),
			"old_core": result.OldCore.String(),
			"new_core": result.NewCore.String(),
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) userLevelUp(w http.ResponseWriter, r *http.Request, userID string, rest []string) {
	if len(rest) == 0 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		evt, ok, err := h.app.LevelWatch.Pending(r.Context(), userID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"pending": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pending":   true,
			"old_level": evt.OldLevel,
			"new_level": evt.NewLevel,
		})
		return
	}

	if rest[0] != "ack" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	evt, err := h.app.LevelWatch.Acknowledge(r.Context(), userID)
	if err != nil {
		if errors.Is(err, levelwatch.ErrNoPendingEvent) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"old_level": evt.OldLevel,
		"new_level": evt.NewLevel,
		"state":     evt.State,
	})
}

func balancePayload(bal ledger.Balance) map[string]any {
	return map[string]any{
		"user_id":             bal.UserID,
		"wallet_balance":      bal.Wallet.String(),
		"core_balance":        bal.Core.String(),
		"level":               bal.Level,
		"reinvest_percentage": bal.ReinvestPct,
	}
}

// decodeAmount reads an {"amount": "12.5"} payload. Amounts travel as strings
// to avoid float rounding on the wire.
func decodeAmount(body io.ReadCloser) (decimal.Decimal, error) {
	var payload struct {
		Amount string `json:"amount"`
	}
	if err := decodeJSON(body, &payload); err != nil {
		return decimal.Zero, err
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", payload.Amount)
	}
	return amount, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidParameter):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, task.ErrInvalidState):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ledger.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}
