package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	app "github.com/Elevate-App/progression_layer/internal/app"
	"github.com/Elevate-App/progression_layer/internal/app/domain/task"
	"github.com/Elevate-App/progression_layer/internal/app/storage/memory"
)

func newTestHandler(t *testing.T) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.New()
	application, err := app.New(app.Stores{
		Balances: store,
		Journal:  store,
		Tasks:    store,
		Events:   store,
	}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	return NewHandler(application), store
}

func marshal(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(data)
}

func do(t *testing.T, handler http.Handler, method, path string, body *bytes.Reader) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return out
}

func TestHandler_BalanceLifecycle(t *testing.T) {
	handler, _ := newTestHandler(t)

	resp := do(t, handler, http.MethodPost, "/users", marshal(t, map[string]any{"user_id": "u1"}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("create user: expected 201, got %d: %s", resp.Code, resp.Body)
	}

	resp = do(t, handler, http.MethodPost, "/users/u1/balance/topup", marshal(t, map[string]any{"amount": "100"}))
	if resp.Code != http.StatusOK {
		t.Fatalf("top up: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	body := decode(t, resp)
	if body["wallet_balance"] != "100" {
		t.Fatalf("wallet after top-up: %v", body["wallet_balance"])
	}

	resp = do(t, handler, http.MethodPost, "/users/u1/balance/transfer", marshal(t, map[string]any{"amount": "70"}))
	if resp.Code != http.StatusOK {
		t.Fatalf("transfer: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	body = decode(t, resp)
	if body["core_balance"] != "70" || body["wallet_balance"] != "30" {
		t.Fatalf("after transfer: %v", body)
	}

	resp = do(t, handler, http.MethodGet, "/users/u1/balance", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get balance: expected 200, got %d", resp.Code)
	}
	// 70 core crosses the level-6 threshold; the watcher reconciles it.
	if decode(t, resp)["level"] != float64(6) {
		t.Fatalf("level after transfer: %v", decode(t, resp)["level"])
	}

	resp = do(t, handler, http.MethodGet, "/users/u1/balance/transactions", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("transactions: expected 200, got %d", resp.Code)
	}
	var txs []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &txs); err != nil {
		t.Fatalf("unmarshal transactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
}

func TestHandler_ErrorMapping(t *testing.T) {
	handler, _ := newTestHandler(t)

	do(t, handler, http.MethodPost, "/users", marshal(t, map[string]any{"user_id": "u1"}))

	// Unknown user.
	resp := do(t, handler, http.MethodGet, "/users/nobody/balance", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing user: expected 404, got %d", resp.Code)
	}

	// Non-positive amount.
	resp = do(t, handler, http.MethodPost, "/users/u1/balance/topup", marshal(t, map[string]any{"amount": "-1"}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("negative top-up: expected 400, got %d", resp.Code)
	}

	// Overdraw.
	resp = do(t, handler, http.MethodPost, "/users/u1/balance/transfer", marshal(t, map[string]any{"amount": "5"}))
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overdraw: expected 422, got %d", resp.Code)
	}

	// Out-of-range reinvest percentage.
	resp = do(t, handler, http.MethodPut, "/users/u1/balance/reinvest", marshal(t, map[string]any{"percentage": 40}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad reinvest: expected 400, got %d", resp.Code)
	}

	// Unknown JSON fields are rejected.
	resp = do(t, handler, http.MethodPost, "/users/u1/balance/topup", marshal(t, map[string]any{"amount": "1", "extra": true}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", resp.Code)
	}
}

func TestHandler_TaskFlow(t *testing.T) {
	handler, store := newTestHandler(t)

	do(t, handler, http.MethodPost, "/users", marshal(t, map[string]any{"user_id": "u1"}))
	if _, err := store.CreateDefinition(context.Background(), task.Definition{
		TaskNumber: 1,
		Title:      "create goals",
		Kind:       "goal_count",
		Reward:     decimal.NewFromInt(10),
		Condition:  map[string]string{"min_goals": "2"},
	}); err != nil {
		t.Fatalf("create definition: %v", err)
	}

	resp := do(t, handler, http.MethodPost, "/users/u1/tasks/1/assign", marshal(t, map[string]any{}))
	if resp.Code != http.StatusCreated {
		t.Fatalf("assign: expected 201, got %d: %s", resp.Code, resp.Body)
	}

	resp = do(t, handler, http.MethodPost, "/users/u1/tasks/1/verify", marshal(t, map[string]any{"goal_count": 1}))
	if resp.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	if decode(t, resp)["success"] != false {
		t.Fatalf("one goal should not verify")
	}

	resp = do(t, handler, http.MethodPost, "/users/u1/tasks/1/verify", marshal(t, map[string]any{"goal_count": 3}))
	if decode(t, resp)["success"] != true {
		t.Fatalf("three goals should verify")
	}

	resp = do(t, handler, http.MethodPost, "/users/u1/tasks/1/complete", marshal(t, map[string]any{}))
	if resp.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	body := decode(t, resp)
	if body["new_core"] != "10" {
		t.Fatalf("core after completion: %v", body["new_core"])
	}

	// Completing again must conflict, not double-credit.
	resp = do(t, handler, http.MethodPost, "/users/u1/tasks/1/complete", marshal(t, map[string]any{}))
	if resp.Code != http.StatusConflict {
		t.Fatalf("second complete: expected 409, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/users/u1/tasks", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list tasks: expected 200, got %d", resp.Code)
	}
}

func TestHandler_Projection(t *testing.T) {
	handler, _ := newTestHandler(t)

	do(t, handler, http.MethodPost, "/users", marshal(t, map[string]any{"user_id": "u1"}))
	do(t, handler, http.MethodPost, "/users/u1/balance/topup", marshal(t, map[string]any{"amount": "1000"}))
	do(t, handler, http.MethodPost, "/users/u1/balance/transfer", marshal(t, map[string]any{"amount": "1000"}))

	resp := do(t, handler, http.MethodGet, "/users/u1/projection?days=0", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("projection: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	if decode(t, resp)["projected_core"] != float64(1000) {
		t.Fatalf("day-0 projection should equal the balance")
	}

	resp = do(t, handler, http.MethodGet, "/users/u1/projection?target=2000", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("target projection: expected 200, got %d: %s", resp.Code, resp.Body)
	}
	days := decode(t, resp)["days"].(float64)
	if days <= 0 {
		t.Fatalf("days to double should be positive: %v", days)
	}

	resp = do(t, handler, http.MethodGet, "/users/u1/projection?target=500", nil)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("target below balance: expected 400, got %d", resp.Code)
	}
}

func TestHandler_LevelUpFlow(t *testing.T) {
	handler, _ := newTestHandler(t)

	do(t, handler, http.MethodPost, "/users", marshal(t, map[string]any{"user_id": "u1"}))

	resp := do(t, handler, http.MethodGet, "/users/u1/levelup", nil)
	if resp.Code != http.StatusOK || decode(t, resp)["pending"] != false {
		t.Fatalf("fresh user should have no pending event: %d %s", resp.Code, resp.Body)
	}

	do(t, handler, http.MethodPost, "/users/u1/balance/topup", marshal(t, map[string]any{"amount": "70"}))
	do(t, handler, http.MethodPost, "/users/u1/balance/transfer", marshal(t, map[string]any{"amount": "70"}))

	resp = do(t, handler, http.MethodGet, "/users/u1/levelup", nil)
	body := decode(t, resp)
	if body["pending"] != true || body["new_level"] != float64(6) {
		t.Fatalf("expected pending level-6 event: %v", body)
	}

	resp = do(t, handler, http.MethodPost, "/users/u1/levelup/ack", marshal(t, map[string]any{}))
	if resp.Code != http.StatusOK {
		t.Fatalf("ack: expected 200, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/users/u1/levelup/ack", marshal(t, map[string]any{}))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("double ack: expected 404, got %d", resp.Code)
	}
}

func TestHandler_RateLimit(t *testing.T) {
	handler, _ := newTestHandler(t)
	limited := RateLimit(1, 2, handler)

	codes := make(map[int]int)
	for i := 0; i < 5; i++ {
		resp := do(t, limited, http.MethodGet, "/users/u1/balance", nil)
		codes[resp.Code]++
	}
	if codes[http.StatusTooManyRequests] == 0 {
		t.Fatalf("expected throttled requests, got %v", codes)
	}
}
