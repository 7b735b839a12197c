package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"investpool/core"
	"investpool/crypto"
	"investpool/observability"
	"investpool/state"
	"investpool/storage"
)

const (
	adminHex    = "0x0000000000000000000000000000000000000001"
	lenderHex   = "0x0000000000000000000000000000000000000002"
	borrowerHex = "0x0000000000000000000000000000000000000003"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := state.NewStore(storage.NewMemDB())
	ledger := core.NewLedger(store, core.Options{
		Owner:   crypto.MustParseAddress(adminHex),
		NowFunc: func() int64 { return 1_700_000_000 },
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(ledger, logger, observability.NewMetrics("test"), Options{ListenAddress: ":0"})
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := map[string]any{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func wantStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", recorder.Code, want, recorder.Body.String())
	}
}

func TestAPILoanLifecycle(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	rec := do(t, router, http.MethodPost, "/v1/accounts/"+lenderHex+"/fund", map[string]string{
		"caller": adminHex, "amount": "10000",
	})
	wantStatus(t, rec, http.StatusOK)

	rec = do(t, router, http.MethodPost, "/v1/pool/deposit", map[string]string{
		"from": lenderHex, "amount": "10000",
	})
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody(t, rec)["shares"]; got != "10000" {
		t.Fatalf("shares = %v, want 10000", got)
	}

	rec = do(t, router, http.MethodPost, "/v1/accounts/"+borrowerHex+"/fund", map[string]string{
		"caller": adminHex, "amount": "1500",
	})
	wantStatus(t, rec, http.StatusOK)

	rec = do(t, router, http.MethodPost, "/v1/loans", map[string]any{
		"borrower":     borrowerHex,
		"principal":    "1000",
		"durationDays": 90,
		"purpose":      "inventory",
		"collateral":   "1500",
	})
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody(t, rec)["id"]; got != "0" {
		t.Fatalf("loan id = %v, want 0", got)
	}

	rec = do(t, router, http.MethodPost, "/v1/loans/0/approve", map[string]string{"caller": adminHex})
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody(t, rec)["status"]; got != "approved" {
		t.Fatalf("status = %v, want approved", got)
	}

	rec = do(t, router, http.MethodPost, "/v1/loans/0/withdraw", map[string]string{"caller": borrowerHex})
	wantStatus(t, rec, http.StatusOK)

	rec = do(t, router, http.MethodGet, "/v1/loans/0/owed", nil)
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody(t, rec)["owed"]; got != "1000" {
		t.Fatalf("owed = %v, want 1000", got)
	}

	rec = do(t, router, http.MethodGet, "/v1/loans?borrower="+borrowerHex, nil)
	wantStatus(t, rec, http.StatusOK)

	rec = do(t, router, http.MethodGet, "/v1/pool", nil)
	wantStatus(t, rec, http.StatusOK)
	stats := decodeBody(t, rec)
	if stats["totalPoolValue"] != "10000" {
		t.Fatalf("totalPoolValue = %v, want 10000", stats["totalPoolValue"])
	}
	if stats["outstandingPrincipal"] != "1000" {
		t.Fatalf("outstandingPrincipal = %v, want 1000", stats["outstandingPrincipal"])
	}
	if stats["loanCount"] != "1" {
		t.Fatalf("loanCount = %v, want 1", stats["loanCount"])
	}

	rec = do(t, router, http.MethodGet, "/v1/pool/shares/"+lenderHex, nil)
	wantStatus(t, rec, http.StatusOK)
	if got := decodeBody(t, rec)["shares"]; got != "10000" {
		t.Fatalf("shares = %v, want 10000", got)
	}
}

func TestAPIErrorMapping(t *testing.T) {
	server := newTestServer(t)
	router := server.Router()

	// Funding is an owner-only operation.
	rec := do(t, router, http.MethodPost, "/v1/accounts/"+lenderHex+"/fund", map[string]string{
		"caller": lenderHex, "amount": "100",
	})
	wantStatus(t, rec, http.StatusForbidden)
	if got := decodeBody(t, rec)["error"]; got != "unauthorized" {
		t.Fatalf("error = %v, want unauthorized", got)
	}

	rec = do(t, router, http.MethodGet, "/v1/loans/99", nil)
	wantStatus(t, rec, http.StatusNotFound)
	if got := decodeBody(t, rec)["error"]; got != "not_found" {
		t.Fatalf("error = %v, want not_found", got)
	}

	rec = do(t, router, http.MethodPost, "/v1/pool/deposit", map[string]string{
		"from": "not-an-address", "amount": "10",
	})
	wantStatus(t, rec, http.StatusBadRequest)

	rec = do(t, router, http.MethodPost, "/v1/pool/deposit", map[string]string{
		"from": lenderHex, "amount": "10", "extra": "field",
	})
	wantStatus(t, rec, http.StatusBadRequest)

	// Depositing without funds fails at the ledger, not the parser.
	rec = do(t, router, http.MethodPost, "/v1/pool/deposit", map[string]string{
		"from": lenderHex, "amount": "10",
	})
	wantStatus(t, rec, http.StatusUnprocessableEntity)
	if got := decodeBody(t, rec)["error"]; got != "insufficient_balance" {
		t.Fatalf("error = %v, want insufficient_balance", got)
	}

	rec = do(t, router, http.MethodGet, "/v1/loans/abc", nil)
	wantStatus(t, rec, http.StatusBadRequest)

	rec = do(t, router, http.MethodGet, "/v1/loans", nil)
	wantStatus(t, rec, http.StatusBadRequest)
}

func TestHealthz(t *testing.T) {
	server := newTestServer(t)
	rec := do(t, server.Router(), http.MethodGet, "/healthz", nil)
	wantStatus(t, rec, http.StatusOK)
}
