package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/koofree/trading-bot/config"
	"github.com/koofree/trading-bot/internal/logging"
	"github.com/koofree/trading-bot/internal/signal"
	"github.com/koofree/trading-bot/internal/trading"
)

type stubSystem struct {
	running   bool
	startErr  error
	signals   []*signal.TradingSignal
	positions []trading.Position
	risk      trading.RiskMetrics
	trades    []trading.TradeRecord
}

func (s *stubSystem) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *stubSystem) Stop() error {
	s.running = false
	return nil
}

func (s *stubSystem) Running() bool { return s.running }

func (s *stubSystem) Status() map[string]interface{} {
	return map[string]interface{}{"running": s.running}
}

func (s *stubSystem) LatestSignals() []*signal.TradingSignal  { return s.signals }
func (s *stubSystem) OpenPositions() []trading.Position       { return s.positions }
func (s *stubSystem) RiskSnapshot() trading.RiskMetrics       { return s.risk }
func (s *stubSystem) TradeHistory(limit int) []trading.TradeRecord {
	if limit < len(s.trades) {
		return s.trades[:limit]
	}
	return s.trades
}

func newTestServer(t *testing.T, system SystemAPI) *Server {
	t.Helper()
	logger := logging.New(&logging.Config{Level: "ERROR"})
	return NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0}, system, logger)
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &stubSystem{})
	w := doRequest(t, s, http.MethodGet, "/health")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestSignalsEndpoint(t *testing.T) {
	system := &stubSystem{
		signals: []*signal.TradingSignal{
			{Market: "KRW-BTC", Type: signal.SignalBuy, Strength: 0.8, Price: 50000000, Timestamp: time.Now()},
			{Market: "KRW-ETH", Type: signal.SignalHold, Strength: 0.3, Price: 3000000, Timestamp: time.Now()},
		},
	}
	s := newTestServer(t, system)
	w := doRequest(t, s, http.MethodGet, "/api/signals")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Signals []signal.TradingSignal `json:"signals"`
		Count   int                    `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body.Count != 2 || len(body.Signals) != 2 {
		t.Fatalf("count = %d, len = %d, want 2", body.Count, len(body.Signals))
	}
	if body.Signals[0].Market != "KRW-BTC" || body.Signals[0].Type != signal.SignalBuy {
		t.Errorf("first signal = %s %s, want KRW-BTC BUY", body.Signals[0].Market, body.Signals[0].Type)
	}
}

func TestPositionsEndpoint(t *testing.T) {
	system := &stubSystem{
		positions: []trading.Position{
			{PositionID: "POS_000001", Market: "KRW-BTC", Side: "long", Status: trading.PositionOpen, EntryPrice: 100, Volume: 10, FilledVolume: 10},
		},
	}
	s := newTestServer(t, system)
	w := doRequest(t, s, http.MethodGet, "/api/positions")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Positions []trading.Position `json:"positions"`
		Count     int                `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body.Count != 1 || body.Positions[0].PositionID != "POS_000001" {
		t.Errorf("unexpected positions payload: %+v", body)
	}
}

func TestRiskEndpoint(t *testing.T) {
	system := &stubSystem{risk: trading.RiskMetrics{DailyPnL: -1500, DailyTrades: 4, WinRate: 0.5, AvailableBalance: 900000}}
	s := newTestServer(t, system)
	w := doRequest(t, s, http.MethodGet, "/api/risk")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var risk trading.RiskMetrics
	if err := json.Unmarshal(w.Body.Bytes(), &risk); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if risk.DailyPnL != -1500 || risk.DailyTrades != 4 {
		t.Errorf("risk = %+v, want daily pnl -1500 and 4 trades", risk)
	}
}

func TestTradesEndpointLimit(t *testing.T) {
	system := &stubSystem{
		trades: []trading.TradeRecord{
			{PositionID: "POS_000001", Action: trading.TradeOpen, Market: "KRW-BTC"},
			{PositionID: "POS_000001", Action: trading.TradeClose, Market: "KRW-BTC"},
			{PositionID: "POS_000002", Action: trading.TradeOpen, Market: "KRW-ETH"},
		},
	}
	s := newTestServer(t, system)

	w := doRequest(t, s, http.MethodGet, "/api/trades?limit=2")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}

	w = doRequest(t, s, http.MethodGet, "/api/trades?limit=abc")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d for bad limit, want 400", w.Code)
	}
}

func TestSystemStartStopLifecycle(t *testing.T) {
	system := &stubSystem{}
	s := newTestServer(t, system)

	w := doRequest(t, s, http.MethodPost, "/api/system/stop")
	if w.Code != http.StatusConflict {
		t.Errorf("stop while stopped: status = %d, want 409", w.Code)
	}

	w = doRequest(t, s, http.MethodPost, "/api/system/start")
	if w.Code != http.StatusOK {
		t.Fatalf("start: status = %d, want 200", w.Code)
	}
	if !system.running {
		t.Fatal("system should be running after start")
	}

	w = doRequest(t, s, http.MethodPost, "/api/system/start")
	if w.Code != http.StatusConflict {
		t.Errorf("start while running: status = %d, want 409", w.Code)
	}

	w = doRequest(t, s, http.MethodPost, "/api/system/stop")
	if w.Code != http.StatusOK {
		t.Errorf("stop: status = %d, want 200", w.Code)
	}
	if system.running {
		t.Error("system should be stopped after stop")
	}
}

func TestStatusReflectsSystem(t *testing.T) {
	system := &stubSystem{running: true}
	s := newTestServer(t, system)
	w := doRequest(t, s, http.MethodGet, "/api/status")

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response: %v", err)
	}
	if body["running"] != true {
		t.Errorf("running = %v, want true", body["running"])
	}
	// The WebSocket client count rides along on the status payload.
	if count, ok := body["ws_clients"].(float64); !ok || count != 0 {
		t.Errorf("ws_clients = %v, want 0", body["ws_clients"])
	}
}
