// Package server is the JSON-over-HTTP surface the dashboard talks to, plus
// a websocket feed of engine events and the Prometheus endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rustyeddy/autotrader/admission"
	"github.com/rustyeddy/autotrader/config"
	"github.com/rustyeddy/autotrader/engine"
	"github.com/rustyeddy/autotrader/journal"
	"github.com/rustyeddy/autotrader/ledger"
	"github.com/rustyeddy/autotrader/lifecycle"
	"github.com/rustyeddy/autotrader/metrics"
)

// Engine is what the HTTP surface reads and controls.
type Engine interface {
	Snapshots() []engine.InstrumentSnapshot
	Events() *journal.EventLog
	PortfolioSummary(ctx context.Context) (engine.Portfolio, error)
	PnLToday(ctx context.Context) (engine.PnL, error)
	Admission() admission.Status
	Scan(ctx context.Context) (engine.ScanResult, error)
	Presets() map[string]config.Preset
	Preset() string
	SetPreset(name string) error
	AutoTrade() bool
	SetAutoTrade(on bool)
	ManualEntry(ctx context.Context, symbol string) (ledger.TradeState, error)
	Close(ctx context.Context, symbol string) error
	Flatten(ctx context.Context, reason string) error
}

const defaultEventLimit = 100

type Server struct {
	engine  Engine
	log     *slog.Logger
	hub     *Hub
	httpSrv *http.Server
}

func New(addr string, e Engine, log *slog.Logger) *Server {
	s := &Server{
		engine: e,
		log:    log.With("component", "server"),
	}
	s.hub = NewHub(e.Events(), s.log)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler routes every endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshots", s.handleSnapshots)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /api/pnl", s.handlePnL)
	mux.HandleFunc("GET /api/admission", s.handleAdmission)
	mux.HandleFunc("POST /api/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /api/presets", s.handlePresets)
	mux.HandleFunc("PUT /api/preset", s.handleSetPreset)
	mux.HandleFunc("GET /api/autotrade", s.handleAutoTrade)
	mux.HandleFunc("POST /api/autotrade", s.handleSetAutoTrade)
	mux.HandleFunc("POST /api/entry/{symbol...}", s.handleEntry)
	mux.HandleFunc("POST /api/close/{symbol...}", s.handleClose)
	mux.HandleFunc("POST /api/flatten", s.handleFlatten)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return err
	}
	s.log.Info("http server listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.hub.Close()
	return s.httpSrv.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("encode response", "error", err)
	}
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func (s *Server) handleSnapshots(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshots())
}

// GET /api/events?limit=N returns the newest N events, oldest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.engine.Events().Recent(limit))
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.PortfolioSummary(r.Context())
	if err != nil {
		s.log.Warn("portfolio", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.PnLToday(r.Context())
	if err != nil {
		s.log.Warn("pnl", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAdmission(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Admission())
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Scan(r.Context())
	switch {
	case errors.Is(err, engine.ErrScanInProgress):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

type presetsResponse struct {
	Active  string                   `json:"active"`
	Presets map[string]config.Preset `json:"presets"`
}

func (s *Server) handlePresets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, presetsResponse{Active: s.engine.Preset(), Presets: s.engine.Presets()})
}

func (s *Server) handleSetPreset(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `body must be {"name": "<preset>"}`})
		return
	}
	if err := s.engine.SetPreset(req.Name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active": s.engine.Preset()})
}

type autoTradeBody struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleAutoTrade(w http.ResponseWriter, _ *http.Request) {
	on := s.engine.AutoTrade()
	writeJSON(w, http.StatusOK, autoTradeBody{Enabled: &on})
}

func (s *Server) handleSetAutoTrade(w http.ResponseWriter, r *http.Request) {
	var req autoTradeBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: `body must be {"enabled": true|false}`})
		return
	}
	s.engine.SetAutoTrade(*req.Enabled)
	s.handleAutoTrade(w, r)
}

// POST /api/entry/{symbol} enters now. Symbols may be written BTC/USD,
// BTCUSD or BTC-USD.
func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.ManualEntry(r.Context(), r.PathValue("symbol"))
	var (
		denied  *admission.DeniedError
		skipped *engine.SkipError
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, st)
	case errors.Is(err, engine.ErrUnknownInstrument):
		writeError(w, http.StatusNotFound, err)
	case errors.As(err, &denied):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Reason: denied.Reason})
	case errors.As(err, &skipped):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Reason: skipped.Reason})
	default:
		writeError(w, http.StatusBadGateway, err)
	}
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Close(r.Context(), r.PathValue("symbol")); err != nil {
		s.log.Warn("manual close", "symbol", r.PathValue("symbol"), "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"closed": r.PathValue("symbol")})
}

// POST /api/flatten exits every position at market.
func (s *Server) handleFlatten(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Flatten(r.Context(), lifecycle.ReasonManual); err != nil {
		s.log.Warn("flatten", "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flattened"})
}
