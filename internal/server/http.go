package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"FloorVault/internal/core"
	"FloorVault/internal/ingestion"
	"FloorVault/internal/observability"
	"FloorVault/internal/projection"
	"FloorVault/internal/query"
)

var log = observability.NewLogger("server")

// Server is the HTTP API surface: read endpoints backed by the query
// service, operation endpoints backed by the synchronous ops service, and
// admin endpoints for parameter updates and projection maintenance.
type Server struct {
	query  *query.QueryService
	ops    *ingestion.OpsService
	health *observability.HealthChecker
	db     *sql.DB

	router http.Handler
}

func New(qs *query.QueryService, ops *ingestion.OpsService, health *observability.HealthChecker, db *sql.DB) *Server {
	s := &Server{
		query:  qs,
		ops:    ops,
		health: health,
		db:     db,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/floor", s.handleGetFloor)
		v1.Get("/floor/history", s.handleGetFloorHistory)
		v1.Get("/reserve", s.handleGetReserve)
		v1.Get("/loans/{borrower}", s.handleGetLoans)
		v1.Get("/balances/{user}/{asset}", s.handleGetBalance)
		v1.Get("/journal/{user}", s.handleGetJournal)

		v1.Post("/ops/fund", s.handleFunding)
		v1.Post("/ops/deposit", s.handleDeposit)
		v1.Post("/ops/burn", s.handleBurn)
		v1.Post("/ops/borrow", s.handleBorrow)
		v1.Post("/ops/repay", s.handleRepay)

		v1.Post("/admin/params", s.handleParams)
		v1.Post("/admin/rebuild", s.handleRebuild)
		v1.Get("/admin/verify", s.handleVerify)
	})

	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", addr).Msg("HTTP server listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// --- read endpoints ---

func (s *Server) handleGetFloor(w http.ResponseWriter, r *http.Request) {
	resp, err := s.query.GetFloor(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetFloorHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	before := queryCursor(r, "before")

	history, err := s.query.GetFloorHistory(r.Context(), limit, before)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

func (s *Server) handleGetReserve(w http.ResponseWriter, r *http.Request) {
	resp, err := s.query.GetReserveSummary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetLoans(w http.ResponseWriter, r *http.Request) {
	borrower, err := uuid.Parse(chi.URLParam(r, "borrower"))
	if err != nil {
		http.Error(w, "invalid borrower id", http.StatusBadRequest)
		return
	}
	includeClosed := r.URL.Query().Get("include_closed") == "true"

	loans, err := s.query.GetLoans(r.Context(), borrower, includeClosed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"loans": loans})
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	asset := chi.URLParam(r, "asset")
	if asset != "JITOSOL" && asset != "VAULT" {
		http.Error(w, "unknown asset", http.StatusBadRequest)
		return
	}

	resp, err := s.query.GetBalance(r.Context(), userID, asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "user"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	limit := queryInt(r, "limit", 100)
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	before := queryCursor(r, "before")

	entries, err := s.query.GetJournalHistory(r.Context(), userID, limit, before)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// --- operation endpoints ---

type fundingRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func (s *Server) handleFunding(w http.ResponseWriter, r *http.Request) {
	var req fundingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	if req.Asset != "JITOSOL" && req.Asset != "VAULT" {
		http.Error(w, "unknown asset", http.StatusBadRequest)
		return
	}

	fundingID, err := s.ops.SubmitFunding(r.Context(), userID, req.Asset, req.Amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"funding_id": fundingID.String()})
}

type amountRequest struct {
	UserID string `json:"user_id"`
	Amount uint64 `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	depositID, err := s.ops.SubmitDeposit(r.Context(), userID, req.Amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"deposit_id": depositID.String()})
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	requestID, err := s.ops.SubmitBurn(r.Context(), userID, req.Amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID.String()})
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}

	requestID, err := s.ops.SubmitBorrow(r.Context(), userID, req.Amount)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID.String()})
}

type repayRequest struct {
	UserID   string `json:"user_id"`
	LoanID   uint64 `json:"loan_id"`
	EscrowID string `json:"escrow_id"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	escrowID, err := uuid.Parse(req.EscrowID)
	if err != nil {
		http.Error(w, "invalid escrow_id", http.StatusBadRequest)
		return
	}

	requestID, err := s.ops.SubmitRepay(r.Context(), userID, req.LoanID, escrowID)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"request_id": requestID.String()})
}

// --- admin endpoints ---

type paramsRequest struct {
	LoanDurationSeconds uint64 `json:"loan_duration_seconds"`
	PenaltyRateBps      uint32 `json:"penalty_rate_bps"`
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.LoanDurationSeconds == 0 {
		http.Error(w, "loan_duration_seconds must be positive", http.StatusBadRequest)
		return
	}
	if req.PenaltyRateBps > 10000 {
		http.Error(w, "penalty_rate_bps must not exceed 10000", http.StatusBadRequest)
		return
	}

	updateID, err := s.ops.SubmitParams(r.Context(), req.LoanDurationSeconds, req.PenaltyRateBps)
	if err != nil {
		s.writeOpError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"update_id": updateID.String()})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.db); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	report, err := s.query.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

// --- helpers ---

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("query failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

// writeOpError maps core rejections to HTTP statuses. The ops loop returns
// the core's error verbatim, so sentinel checks work across the channel.
func (s *Server) writeOpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrLoanNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrInsufficientBalance),
		errors.Is(err, core.ErrZeroOutput):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, core.ErrEscrowMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ingestion.ErrInvalidAmount), errors.Is(err, core.ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		log.Error().Err(err).Msg("operation failed")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func queryCursor(r *http.Request, key string) *int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}
