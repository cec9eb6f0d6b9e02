package server

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

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/autotrader/admission"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/engine"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/logging"
	"github.com/rustyeddy/autotrader/market"
)

type fakeEngine struct {
	mu        sync.Mutex
	events    *journal.EventLog
	preset    string
	autoTrade bool
	scanErr   error
	entryErr  error
	closeErr  error
	entered   []string
	closed    []string
	flattened int
}

func (f *fakeEngine) Snapshots() []engine.InstrumentSnapshot {
	return []engine.InstrumentSnapshot{
		{Symbol: "BTC/USD", EntryReady: true, Price: 65000},
		{Symbol: "ETH/USD", Watchlist: true, Price: 3000},
	}
}

func (f *fakeEngine) Events() *journal.EventLog { return f.events }

func (f *fakeEngine) PortfolioSummary(context.Context) (engine.Portfolio, error) {
	return engine.Portfolio{Equity: 10100, LastEquity: 10000, DailyChange: 100, DailyChangePct: 1}, nil
}

func (f *fakeEngine) PnLToday(context.Context) (engine.PnL, error) {
	return engine.PnL{Trades: journal.Summary{Trades: 2, RealizedPL: 12.5}, Net: 11}, nil
}

func (f *fakeEngine) Admission() admission.Status {
	return admission.Status{Open: []string{"BTC/USD"}}
}

func (f *fakeEngine) Scan(context.Context) (engine.ScanResult, error) {
	if f.scanErr != nil {
		return engine.ScanResult{}, f.scanErr
	}
	return engine.ScanResult{Evaluated: 2, Ready: []string{"BTC/USD"}}, nil
}

func (f *fakeEngine) Presets() map[string]config.Preset { return config.BuiltinPresets() }

func (f *fakeEngine) Preset() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.preset
}

func (f *fakeEngine) SetPreset(name string) error {
	if _, ok := config.BuiltinPresets()[name]; !ok {
		return fmt.Errorf("unknown preset: %s", name)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preset = name
	return nil
}

func (f *fakeEngine) AutoTrade() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.autoTrade
}

func (f *fakeEngine) SetAutoTrade(on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoTrade = on
}

func (f *fakeEngine) ManualEntry(_ context.Context, symbol string) (ledger.TradeState, error) {
	if f.entryErr != nil {
		return ledger.TradeState{}, f.entryErr
	}
	sym := market.NormalizeSymbol(symbol)
	f.mu.Lock()
	f.entered = append(f.entered, sym)
	f.mu.Unlock()
	return ledger.TradeState{Symbol: sym, Phase: ledger.Open, Qty: 1}, nil
}

func (f *fakeEngine) Close(_ context.Context, symbol string) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, symbol)
	return nil
}

func (f *fakeEngine) Flatten(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flattened++
	return nil
}

func newTestServer(t *testing.T) (*fakeEngine, *httptest.Server) {
	t.Helper()
	fe := &fakeEngine{events: journal.NewEventLog(100), preset: "balanced"}
	s := New(":0", fe, logging.Discard())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.hub.Close()
		ts.Close()
	})
	return fe, ts
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestSnapshotsAndEvents(t *testing.T) {
	fe, ts := newTestServer(t)
	for i := 0; i < 5; i++ {
		fe.events.Emit(journal.EventScan, "", fmt.Sprintf("scan %d", i), nil)
	}

	resp, err := http.Get(ts.URL + "/api/snapshots")
	require.NoError(t, err)
	var snaps []engine.InstrumentSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snaps))
	resp.Body.Close()
	require.Len(t, snaps, 2)
	assert.Equal(t, "BTC/USD", snaps[0].Symbol)

	resp, err = http.Get(ts.URL + "/api/events?limit=2")
	require.NoError(t, err)
	var evs []journal.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&evs))
	resp.Body.Close()
	require.Len(t, evs, 2)
	assert.Equal(t, "scan 3", evs[0].Message)
	assert.Equal(t, "scan 4", evs[1].Message)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/events?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPortfolioPnLAdmission(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/portfolio", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 100.0, body["daily_change"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/pnl", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 11.0, body["net"])

	resp, body = do(t, http.MethodGet, ts.URL+"/api/admission", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"BTC/USD"}, body["open"])
}

func TestEvaluate(t *testing.T) {
	fe, ts := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/evaluate", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2.0, body["evaluated"])

	fe.scanErr = engine.ErrScanInProgress
	resp, _ = do(t, http.MethodPost, ts.URL+"/api/evaluate", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/evaluate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestPresets(t *testing.T) {
	fe, ts := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/presets", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "balanced", body["active"])
	assert.Contains(t, body["presets"], "aggressive")

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/preset", `{"name":"conservative"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "conservative", fe.Preset())

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/preset", `{"name":"yolo"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodPut, ts.URL+"/api/preset", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAutoTrade(t *testing.T) {
	fe, ts := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/autotrade", `{"enabled":true}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["enabled"])
	assert.True(t, fe.AutoTrade())

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/autotrade", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, fe.AutoTrade())
}

func TestManualEntry(t *testing.T) {
	fe, ts := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/entry/BTC/USD", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "BTC/USD", body["symbol"])

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/entry/ethusd", "")
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"BTC/USD", "ETH/USD"}, fe.entered)

	tests := []struct {
		err    error
		status int
		reason string
	}{
		{&admission.DeniedError{Symbol: "BTC/USD", Reason: admission.ReasonSymbolCooldown}, http.StatusConflict, admission.ReasonSymbolCooldown},
		{&engine.SkipError{Symbol: "BTC/USD", Reason: engine.SkipSizing}, http.StatusConflict, engine.SkipSizing},
		{fmt.Errorf("%w: XRP/USD", engine.ErrUnknownInstrument), http.StatusNotFound, ""},
		{fmt.Errorf("submit: connection reset"), http.StatusBadGateway, ""},
	}
	for _, tt := range tests {
		fe.entryErr = tt.err
		resp, body := do(t, http.MethodPost, ts.URL+"/api/entry/BTC/USD", "")
		assert.Equal(t, tt.status, resp.StatusCode, tt.err.Error())
		if tt.reason != "" {
			assert.Equal(t, tt.reason, body["reason"])
		}
	}
}

func TestCloseAndFlatten(t *testing.T) {
	fe, ts := newTestServer(t)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/close/SOL/USD", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SOL/USD", body["closed"])
	assert.Equal(t, []string{"SOL/USD"}, fe.closed)

	fe.closeErr = fmt.Errorf("cancel take-profit: timeout")
	resp, _ = do(t, http.MethodPost, ts.URL+"/api/close/SOL/USD", "")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/flatten", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, fe.flattened)
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketStreamsBacklogAndLiveEvents(t *testing.T) {
	fe, ts := newTestServer(t)
	fe.events.Emit(journal.EventScan, "", "before connect", nil)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ev journal.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "before connect", ev.Message)

	fe.events.Emit(journal.EventExit, "BTC/USD", "position closed", map[string]any{"reason": "stop"})
	// the backlog may repeat events emitted while subscribing
	for ev.Message != "position closed" {
		require.NoError(t, conn.ReadJSON(&ev))
	}
	assert.Equal(t, journal.EventExit, ev.Type)
	assert.Equal(t, "BTC/USD", ev.Symbol)
}
