package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"escrowlock/internal/config"
	"escrowlock/internal/escrow"
	"escrowlock/internal/hmacauth"
	"escrowlock/internal/idempotency"
	"escrowlock/internal/log"
	"escrowlock/internal/records"
)

// Locker is the lock use case as the API sees it. *escrow.Workflow
// implements it.
type Locker interface {
	Lock(ctx context.Context, req escrow.LockRequest) (escrow.LockOutcome, error)
	Balance(ctx context.Context, address string) (*big.Int, error)
	Paused(ctx context.Context, caller string) (bool, error)
}

type Deps struct {
	Locker      Locker
	Idempotency idempotency.Store
	Records     records.Store
	Metrics     *Metrics
	// RPCHealth and StoreHealth are optional.
	RPCHealth   func(context.Context) error
	StoreHealth func(context.Context) error
}

type Server struct {
	cfg        *config.Config
	deps       Deps
	scale      *big.Int
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	metrics    *Metrics
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	hmacVerifier := &hmacauth.Verifier{
		Secret:  cfg.Service.HMACSecret,
		MaxSkew: cfg.Service.HMACClockSkew,
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		scale:   big.NewInt(cfg.Chain.AmountScale),
		hmac:    hmacVerifier,
		metrics: metrics,
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/locks", s.hmac.Middleware(http.HandlerFunc(s.handleLocks)))
	mux.HandleFunc("/api/v1/balance", s.handleBalance)
	mux.HandleFunc("/api/v1/paused", s.handlePaused)
	mux.Handle("/api/v1/metrics", metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	log.L(context.Background()).Infof("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type lockRequest struct {
	CallerAddress string   `json:"callerAddress"`
	Amount        string   `json:"amount"`
	JobID         string   `json:"jobId,omitempty"`
	JobTitle      string   `json:"jobTitle"`
	Deliverables  []string `json:"deliverables,omitempty"`
}

type lockResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	LockedAmount    string `json:"lockedAmount"`
	JobID           string `json:"jobId"`
	Persisted       bool   `json:"persisted"`
}

type errorResponse struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	TransactionHash string `json:"transactionHash,omitempty"`
	Required        string `json:"required,omitempty"`
	Available       string `json:"available,omitempty"`
}

func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimSpace(r.Header.Get("X-Idempotency-Key"))
	if key == "" {
		http.Error(w, "missing X-Idempotency-Key header", http.StatusBadRequest)
		return
	}

	ctx := log.WithLogField(r.Context(), "idempotencyKey", key)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "could not read body", http.StatusBadRequest)
		return
	}
	fingerprint := idempotency.Fingerprint(body)

	existing, err := s.deps.Idempotency.Reserve(ctx, key, fingerprint, s.cfg.Service.LockTimeout)
	if err != nil {
		log.L(ctx).Errorf("idempotency reserve failed: %v", err)
		http.Error(w, "idempotency store unavailable", http.StatusServiceUnavailable)
		return
	}
	if existing != nil {
		s.replay(w, existing, fingerprint)
		return
	}

	status, resp, keep := s.lock(ctx, body)
	b, _ := json.Marshal(resp)

	if keep {
		now := time.Now()
		record := idempotency.Record{
			Fingerprint: fingerprint,
			StatusCode:  status,
			Response:    b,
			CreatedAt:   now,
			ExpiresAt:   now.Add(s.cfg.Service.IdempotencyWindow),
		}
		if err := s.deps.Idempotency.Complete(ctx, key, record); err != nil {
			log.L(ctx).Errorf("idempotency save failed: %v", err)
		}
	} else if err := s.deps.Idempotency.Release(ctx, key); err != nil {
		log.L(ctx).Warnf("idempotency release failed: %v", err)
	}

	writeJSON(w, status, b)
}

func (s *Server) replay(w http.ResponseWriter, existing *idempotency.Record, fingerprint string) {
	switch {
	case existing.Fingerprint != fingerprint:
		s.metrics.incLock("key_reused")
		http.Error(w, "idempotency key was used with a different request", http.StatusUnprocessableEntity)
	case existing.InFlight:
		s.metrics.incLock("in_flight")
		http.Error(w, "a request with this idempotency key is in progress", http.StatusConflict)
	default:
		s.metrics.incLock("cached")
		writeJSON(w, existing.StatusCode, existing.Response)
	}
}

// lock runs one lock request. keep reports whether the response must be
// replayed for retries of the same key; it is false when nothing can have
// reached the ledger, so the client may retry.
func (s *Server) lock(ctx context.Context, body []byte) (status int, resp any, keep bool) {
	var payload lockRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return http.StatusBadRequest, errorResponse{Error: "BadRequest", Message: "invalid json payload"}, false
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(payload.Amount), 10)
	if !ok {
		return http.StatusBadRequest, errorResponse{
			Error:   string(escrow.KindInvalidAmount),
			Message: escrow.Describe(escrow.ErrInvalidAmount),
		}, false
	}

	start := time.Now()
	// The lock outlives a dropped client connection; the poll is bounded by
	// its own attempt budget and LockTimeout.
	lockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.Service.LockTimeout)
	defer cancel()

	out, err := s.deps.Locker.Lock(lockCtx, escrow.LockRequest{
		CallerAddress: payload.CallerAddress,
		Amount:        amount,
		JobID:         payload.JobID,
		Title:         payload.JobTitle,
		Deliverables:  payload.Deliverables,
	})
	s.metrics.observeLockDuration(start)
	if err != nil {
		kind := escrow.KindOf(err)
		s.metrics.incLock(resultLabel(kind))
		log.L(ctx).Warnf("lock failed: %v", err)
		return statusFor(kind), toErrorResponse(err), reachedLedger(kind)
	}

	s.metrics.incLock("success")
	if !out.Persisted {
		s.refreshOutboxDepth(ctx)
	}
	return http.StatusCreated, lockResponse{
		Success:         out.Success,
		TransactionHash: out.TransactionHash,
		LockedAmount:    out.LockedAmount.String(),
		JobID:           out.JobID,
		Persisted:       out.Persisted,
	}, true
}

// reachedLedger reports whether a failure of this kind may have left a
// transaction on the ledger.
func reachedLedger(kind escrow.Kind) bool {
	switch kind {
	case escrow.KindTransactionFailed, escrow.KindConfirmationTimeout, escrow.KindSubmissionUnknown:
		return true
	}
	return false
}

func resultLabel(kind escrow.Kind) string {
	if kind == "" {
		return "internal"
	}
	return string(kind)
}

func toErrorResponse(err error) errorResponse {
	resp := errorResponse{Error: "InternalError", Message: escrow.Describe(err)}
	var e *escrow.Error
	if errors.As(err, &e) {
		resp.Error = string(e.Kind)
		resp.TransactionHash = e.Hash
		if e.Required != nil {
			resp.Required = e.Required.String()
		}
		if e.Available != nil {
			resp.Available = e.Available.String()
		}
	}
	return resp
}

func statusFor(kind escrow.Kind) int {
	switch kind {
	case escrow.KindWalletNotConnected, escrow.KindInvalidAmount, escrow.KindEncoding:
		return http.StatusBadRequest
	case escrow.KindAccountFetch:
		return http.StatusNotFound
	case escrow.KindBalanceInsufficient:
		return http.StatusUnprocessableEntity
	case escrow.KindContractPaused:
		return http.StatusLocked
	case escrow.KindSigningDeclined, escrow.KindJobExists:
		return http.StatusConflict
	case escrow.KindSimulation, escrow.KindSubmission, escrow.KindTransactionFailed, escrow.KindSignerUnavailable:
		return http.StatusBadGateway
	case escrow.KindPauseCheckFailed:
		return http.StatusServiceUnavailable
	case escrow.KindConfirmationTimeout, escrow.KindSubmissionUnknown:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type balanceResponse struct {
	Address   string `json:"address"`
	BaseUnits string `json:"baseUnits"`
	Amount    string `json:"amount"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if addr == "" {
		http.Error(w, "address is required", http.StatusBadRequest)
		return
	}
	bal, err := s.deps.Locker.Balance(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeValue(w, balanceResponse{
		Address:   addr,
		BaseUnits: bal.String(),
		Amount:    escrow.FormatUnits(bal, s.scale),
	})
}

func (s *Server) handlePaused(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	caller := strings.TrimSpace(r.URL.Query().Get("caller"))
	if caller == "" {
		http.Error(w, "caller is required", http.StatusBadRequest)
		return
	}
	paused, err := s.deps.Locker.Paused(r.Context(), caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeValue(w, struct {
		Paused bool `json:"paused"`
	}{paused})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	b, _ := json.Marshal(toErrorResponse(err))
	writeJSON(w, statusFor(escrow.KindOf(err)), b)
}

func (s *Server) writeValue(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (s *Server) refreshOutboxDepth(ctx context.Context) int {
	if s.deps.Records == nil {
		return 0
	}
	depth, err := s.deps.Records.OutboxDepth(ctx)
	if err != nil {
		log.L(ctx).Warnf("outbox depth: %v", err)
		return 0
	}
	s.metrics.setOutboxDepth(depth)
	return depth
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.deps.RPCHealth != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.deps.RPCHealth(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.deps.StoreHealth != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.deps.StoreHealth(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	outboxDepth := s.refreshOutboxDepth(ctx)

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status      string `json:"status"`
		RPC         any    `json:"rpc"`
		Database    any    `json:"database"`
		OutboxDepth int    `json:"outbox_depth"`
	}{
		Status:      status,
		RPC:         rpcInfo,
		Database:    dbInfo,
		OutboxDepth: outboxDepth,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-Id", id)
		}
		w.Header().Set("X-Request-Id", id)
		ctx := log.WithLogField(r.Context(), "requestId", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
