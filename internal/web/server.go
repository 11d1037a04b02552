// Package web exposes the engine over HTTP: run submission, status,
// cancellation, stats and a server-sent event stream of state changes.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/arbi/config"
	"github.com/vadiminshakov/arbi/internal/domain"
	"github.com/vadiminshakov/arbi/internal/engine"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"
)

const heartbeatInterval = 30 * time.Second

type coordinator interface {
	Submit(ctx context.Context, opp domain.Opportunity, policy domain.FailSafePolicy) (string, error)
	Cancel(runID string) error
	Status(runID string) (domain.ExecutionRun, error)
	Runs() []domain.ExecutionRun
	Subscribe() (<-chan domain.StateChangeEvent, func())
}

type runArchive interface {
	ByID(runID string) (domain.ExecutionRun, bool)
	ByOpportunity(opportunityID string) []domain.ExecutionRun
	ByState(state domain.RunState) []domain.ExecutionRun
	All() []domain.ExecutionRun
}

type opportunitySource interface {
	Latest() []domain.Opportunity
	ManualSelection(ctx context.Context, pair domain.Pair, buyExchange, sellExchange string) (domain.Opportunity, error)
}

type ledgerReader interface {
	Snapshot() []domain.LedgerEntry
}

// Server wires the engine's API surface onto net/http.
type Server struct {
	Addr          string
	Coordinator   coordinator
	Archive       runArchive
	Opportunities opportunitySource
	Ledger        ledgerReader

	logger  *zap.Logger
	started time.Time
}

// NewServer creates a new API server instance.
func NewServer(addr string, coord coordinator, archive runArchive, opps opportunitySource, led ledgerReader, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:          addr,
		Coordinator:   coord,
		Archive:       archive,
		Opportunities: opps,
		Ledger:        led,
		logger:        logger,
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /runs", s.handleListRuns)
	mux.HandleFunc("POST /runs", s.handleSubmit)
	mux.HandleFunc("GET /runs/{id}", s.handleRunStatus)
	mux.HandleFunc("POST /runs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /opportunities", s.handleOpportunities)
	mux.HandleFunc("POST /opportunities/manual", s.handleManualSelection)
	mux.HandleFunc("GET /events/stream", s.handleEventStream)
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.started = time.Now()

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StartWithAutoTLS runs an HTTPS server with automatic certificates
// via ACME, plus a plain HTTP listener for the HTTP-01 challenge.
func (s *Server) StartWithAutoTLS(ctx context.Context, domains []string, cacheDir string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(domains) == 0 {
		return fmt.Errorf("no domains provided for automatic TLS")
	}
	s.started = time.Now()

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(domains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	server := &http.Server{
		Addr:              ":443",
		Handler:           s.mux(),
		TLSConfig:         manager.TLSConfig(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	challenge := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		_ = challenge.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ACME challenge listener failed", zap.Error(err))
		}
	}()

	if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	counts := make(map[string]int)
	for _, run := range s.Archive.All() {
		counts[string(run.State)]++
	}
	active := 0
	for _, run := range s.Coordinator.Runs() {
		if !run.State.Terminal() {
			active++
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"active_runs":   active,
		"archived_runs": counts,
		"ledger":        s.Ledger.Snapshot(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if opportunityID := r.URL.Query().Get("opportunity_id"); opportunityID != "" {
		s.writeJSON(w, http.StatusOK, s.Archive.ByOpportunity(opportunityID))
		return
	}
	if state := r.URL.Query().Get("state"); state != "" {
		s.writeJSON(w, http.StatusOK, s.Archive.ByState(domain.RunState(state)))
		return
	}
	s.writeJSON(w, http.StatusOK, s.Coordinator.Runs())
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.Coordinator.Status(id)
	if err == nil {
		s.writeJSON(w, http.StatusOK, run)
		return
	}
	if archived, ok := s.Archive.ByID(id); ok {
		s.writeJSON(w, http.StatusOK, archived)
		return
	}
	s.writeError(w, http.StatusNotFound, err)
}

// submitRequest mirrors the submission payload; interval fields arrive
// in seconds and decimal fields as strings.
type submitRequest struct {
	Opportunity          domain.Opportunity `json:"opportunity"`
	TargetSellSpread     string             `json:"target_sell_spread"`
	StopLossSpread       string             `json:"stop_loss_spread"`
	CheckIntervalSeconds int                `json:"check_interval_seconds"`
	MaxWaitSeconds       int                `json:"max_wait_seconds"`
	SlippageTolerance    string             `json:"slippage_tolerance"`
	MinReserveForFees    string             `json:"min_reserve_for_fees"`
	LiveMode             bool               `json:"live_mode"`
}

func (req submitRequest) policy() (domain.FailSafePolicy, error) {
	policy := config.DefaultPolicy()
	policy.LiveMode = req.LiveMode
	if req.CheckIntervalSeconds > 0 {
		policy.CheckInterval = time.Duration(req.CheckIntervalSeconds) * time.Second
	}
	if req.MaxWaitSeconds > 0 {
		policy.MaxWait = time.Duration(req.MaxWaitSeconds) * time.Second
	}

	fields := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{req.TargetSellSpread, &policy.TargetSellSpread},
		{req.StopLossSpread, &policy.StopLossSpread},
		{req.SlippageTolerance, &policy.SlippageTolerance},
		{req.MinReserveForFees, &policy.MinReserveForFees},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		parsed, err := decimal.NewFromString(f.raw)
		if err != nil {
			return domain.FailSafePolicy{}, err
		}
		*f.dst = parsed
	}
	return policy, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	policy, err := req.policy()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	runID, err := s.Coordinator.Submit(r.Context(), req.Opportunity, policy)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, engine.ErrDuplicateActiveRun):
			status = http.StatusConflict
		case errors.Is(err, engine.ErrInsufficientCapital):
			status = http.StatusUnprocessableEntity
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Coordinator.Cancel(r.PathValue("id")); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}

func (s *Server) handleOpportunities(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Opportunities.Latest())
}

type manualSelectionRequest struct {
	Pair         string `json:"pair"`
	BuyExchange  string `json:"buy_exchange"`
	SellExchange string `json:"sell_exchange"`
}

func (s *Server) handleManualSelection(w http.ResponseWriter, r *http.Request) {
	var req manualSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	pair, err := config.PairFromString(req.Pair)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	opp, err := s.Opportunities.ManualSelection(r.Context(), pair, req.BuyExchange, req.SellExchange)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err)
		return
	}
	s.writeJSON(w, http.StatusOK, opp)
}

func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events, unsubscribe := s.Coordinator.Subscribe()
	defer unsubscribe()

	// comment heartbeats keep proxies from dropping the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				s.logger.Error("failed to encode event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: state\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
