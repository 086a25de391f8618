package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/copybot/internal/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeController struct {
	mu      sync.Mutex
	state   domain.PortfolioState
	closed  []domain.Position
	wallets []domain.WalletRecord
	stops   []string
	trips   []string
	rearms  int
}

func (f *fakeController) Snapshot() domain.PortfolioState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) ClosedPositions() []domain.Position { return f.closed }

func (f *fakeController) Wallets() []domain.WalletRecord { return f.wallets }

func (f *fakeController) EmergencyStop(_ context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, reason)
	f.state.Breaker.Stop(reason, t0)
}

func (f *fakeController) TripBreaker(_ context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trips = append(f.trips, reason)
	f.state.Breaker.Trip(reason, t0)
}

func (f *fakeController) Rearm(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rearms++
	f.state.Breaker.Rearm()
}

func newController() *fakeController {
	open := domain.Position{
		ID: "p1", Asset: "MINT", Kind: domain.KindWalletConvergence, Confidence: 0.8,
		Wallets: []string{"w1", "w2"}, SizeUSD: 100, EntryPrice: 1, EntryTime: t0,
		StopLoss: 0.85, TakeProfit: 2, PeakPrice: 1.2, CurrentPrice: 1.1, Status: domain.PositionOpen,
	}
	var closed []domain.Position
	for i := 0; i < 3; i++ {
		closed = append(closed, domain.Position{
			ID: fmt.Sprintf("c%d", i), Asset: "OLD", SizeUSD: 50, EntryPrice: 1,
			Status: domain.PositionClosed, ExitPrice: 0.9, ExitTime: t0.Add(time.Duration(i) * time.Hour),
			ExitTrigger: domain.TriggerStopLoss, RealizedPnL: -5,
		})
	}
	return &fakeController{
		state: domain.PortfolioState{
			Capital: 1000, Available: 900, Exposure: 100,
			OpenPositions: map[string]domain.Position{"p1": open},
			DailyDate:     "2026-03-01",
			Breaker:       domain.NewCircuitBreaker(time.Hour, 5),
			TakenAt:       t0,
		},
		closed: closed,
		wallets: []domain.WalletRecord{{
			Address: "w1", Score: 0.72, Scored: true, Active: true,
			Metrics: domain.WalletMetrics{TradeCount: 12, RoundTrips: 5, WinRate: 0.6},
			Copied:  domain.CopyStats{Wins: 2, Losses: 1},
		}},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_Health(t *testing.T) {
	s := NewServer(Config{}, newController(), nil)
	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ARMED", body["breaker"])
}

func TestServer_Portfolio(t *testing.T) {
	s := NewServer(Config{}, newController(), nil)
	rec := do(t, s.Handler(), http.MethodGet, "/portfolio", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view portfolioView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 1000.0, view.Capital)
	assert.Equal(t, 900.0, view.Available)
	require.Len(t, view.OpenPositions, 1)

	p := view.OpenPositions[0]
	assert.Equal(t, "MINT", p.Asset)
	assert.Equal(t, "WALLET_CONVERGENCE", p.Kind)
	assert.InDelta(t, 10.0, p.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 10.0, view.UnrealizedPnL, 1e-9)
}

func TestServer_ClosedNewestFirstWithLimit(t *testing.T) {
	s := NewServer(Config{}, newController(), nil)
	rec := do(t, s.Handler(), http.MethodGet, "/positions/closed?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []positionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	assert.Equal(t, "c2", out[0].ID)
	assert.Equal(t, "c1", out[1].ID)
	assert.Equal(t, "STOP_LOSS", out[0].ExitTrigger)
	assert.Equal(t, -5.0, out[0].RealizedPnL)
}

func TestServer_ClosedBadLimit(t *testing.T) {
	s := NewServer(Config{}, newController(), nil)
	for _, q := range []string{"abc", "0", "-3"} {
		rec := do(t, s.Handler(), http.MethodGet, "/positions/closed?limit="+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestServer_Wallets(t *testing.T) {
	s := NewServer(Config{}, newController(), nil)
	rec := do(t, s.Handler(), http.MethodGet, "/wallets", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []walletView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "w1", out[0].Address)
	assert.Equal(t, 12, out[0].Trades)
	assert.Equal(t, 3, out[0].CopiedTotal)
}

func TestServer_EmergencyStopAndRearm(t *testing.T) {
	ctrl := newController()
	s := NewServer(Config{}, ctrl, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/emergency-stop", `{"reason":"oracle down"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var b breakerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "TRIPPED", b.Status)
	assert.True(t, b.Manual)
	assert.Equal(t, "oracle down", b.Reason)
	assert.Equal(t, []string{"oracle down"}, ctrl.stops)

	rec = do(t, s.Handler(), http.MethodPost, "/rearm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "ARMED", b.Status)
	assert.Equal(t, 1, ctrl.rearms)
}

func TestServer_EmergencyStopWithoutBody(t *testing.T) {
	ctrl := newController()
	s := NewServer(Config{}, ctrl, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/emergency-stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{""}, ctrl.stops)
}

func TestServer_EmergencyStopBadBody(t *testing.T) {
	ctrl := newController()
	s := NewServer(Config{}, ctrl, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/emergency-stop", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, ctrl.stops)
}

func TestServer_ExternalEmergencyTripsWithCooldown(t *testing.T) {
	ctrl := newController()
	s := NewServer(Config{}, ctrl, nil)

	rec := do(t, s.Handler(), http.MethodPost, "/emergency", `{"reason":"rpc outage"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var b breakerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
	assert.Equal(t, "TRIPPED", b.Status)
	assert.False(t, b.Manual)
	assert.Equal(t, "rpc outage", b.Reason)
	assert.WithinDuration(t, t0.Add(time.Hour), b.CooldownUntil, 0)
	assert.Equal(t, []string{"rpc outage"}, ctrl.trips)
	assert.Empty(t, ctrl.stops)

	rec = do(t, s.Handler(), http.MethodPost, "/emergency", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, ctrl.trips, 1)

	rec = do(t, s.Handler(), http.MethodGet, "/emergency", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServer_MethodsAndRouting(t *testing.T) {
	s := NewServer(Config{}, newController(), nil)

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s.Handler(), http.MethodGet, "/emergency-stop", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/nope", "").Code)
	// sin handler de métricas no hay /metrics
	assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/metrics", "").Code)
}

func TestServer_MetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, "copybot_capital_usd 1000")
	})
	s := NewServer(Config{}, newController(), metrics)

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "copybot_capital_usd")
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	s := NewServer(Config{Addr: "127.0.0.1:0"}, newController(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
