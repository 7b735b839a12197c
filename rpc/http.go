package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"investpool/core"
	"investpool/crypto"
	"investpool/observability"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// Options configures the HTTP server.
type Options struct {
	ListenAddress     string
	RequestsPerMinute float64
	RequestBurst      int
}

// Server exposes the ledger's command and query operations over HTTP.
type Server struct {
	ledger  *core.Ledger
	logger  *slog.Logger
	metrics *observability.Metrics
	limiter *rateLimiter
	httpSrv *http.Server
}

// NewServer wires the ledger behind a chi router with rate limiting and
// request metrics.
func NewServer(ledger *core.Ledger, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ledger:  ledger,
		logger:  logger,
		metrics: metrics,
		limiter: newRateLimiter(opts.RequestsPerMinute, opts.RequestBurst),
	}
	s.httpSrv = &http.Server{
		Addr:              opts.ListenAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.limiter.middleware)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pool", s.handlePoolStats)
		r.Post("/pool/deposit", s.handleDeposit)
		r.Post("/pool/withdraw", s.handleWithdraw)
		r.Get("/pool/shares/{address}", s.handleShares)

		r.Post("/loans", s.handleRequestLoan)
		r.Get("/loans", s.handleLoanList)
		r.Get("/loans/{id}", s.handleLoanByID)
		r.Get("/loans/{id}/owed", s.handleAmountOwed)
		r.Post("/loans/{id}/approve", s.handleApprove)
		r.Post("/loans/{id}/deny", s.handleDeny)
		r.Post("/loans/{id}/withdraw", s.handleWithdrawLoan)
		r.Post("/loans/{id}/repay", s.handleRepay)
		r.Post("/loans/{id}/default", s.handleDefault)

		r.Get("/accounts/{address}", s.handleAccount)
		r.Post("/accounts/{address}/fund", s.handleFund)
	})
	return r
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// observe records one metrics sample per request, labelled with the chi
// route pattern rather than the raw path.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(route, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) decode(r *http.Request, into any) error {
	body := http.MaxBytesReader(nil, r.Body, requestBodyLimit)
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) operation(w http.ResponseWriter, op string, err error, result any) {
	s.metrics.ObserveOperation(op, err)
	if err != nil {
		s.writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeError(w http.ResponseWriter, op string, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("ledger operation failed", "op", op, "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error":   errorCode(err),
		"message": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error":   "bad_request",
		"message": err.Error(),
	})
}

func parseAddressParam(value string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return addr, nil
}

func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}
