package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/farmd/api"
	"pkt.systems/farmd/internal/farm"
	"pkt.systems/farmd/internal/httpapi"
)

func newTestMux(t *testing.T) (*http.ServeMux, *farm.Ledger) {
	t.Helper()
	ledger := farm.NewLedger(farm.Config{})
	h := httpapi.New(httpapi.Config{Farm: ledger})
	mux := http.NewServeMux()
	h.Register(mux)
	return mux, ledger
}

func TestSubmitFoodBareNumber(t *testing.T) {
	t.Parallel()

	mux, ledger := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/submit/food", strings.NewReader("12.5"))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var result api.SubmitResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !result.IsAccepted {
		t.Fatalf("expected acceptance, got %+v", result)
	}
	if got := ledger.Snapshot().AccumulatedFood; got != 12.5 {
		t.Fatalf("expected 12.5 food, got %v", got)
	}
}

func TestSubmitWaterObjectBody(t *testing.T) {
	t.Parallel()

	mux, ledger := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/submitWater", strings.NewReader(`{"amount":7}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := ledger.Snapshot().AccumulatedWater; got != 7 {
		t.Fatalf("expected 7 water, got %v", got)
	}
}

func TestSubmitRejectsBadPayload(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)

	for _, body := range []string{"", "not json", `{"amount":"x"}`} {
		req := httptest.NewRequest(http.MethodPost, "/v1/submit/food", strings.NewReader(body))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
			t.Fatalf("body %q: decode error response: %v", body, err)
		}
		if errResp.ErrorCode != "invalid_amount" {
			t.Fatalf("body %q: unexpected error code %q", body, errResp.ErrorCode)
		}
	}
}

func TestSubmitMethodNotAllowed(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/submit/food", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != "POST" {
		t.Fatalf("expected Allow: POST, got %q", allow)
	}
}

func TestStatusReportsFarmState(t *testing.T) {
	t.Parallel()

	mux, ledger := newTestMux(t)
	ledger.Submit(farm.Food, 3)
	ledger.Submit(farm.Water, 4)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status api.FarmStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.AccumulatedFood != 3 || status.AccumulatedWater != 4 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestCorrelationHeaderEchoed(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/submit/food", strings.NewReader("1"))
	req.Header.Set("X-Correlation-Id", "corr-12345")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-Id"); got != "corr-12345" {
		t.Fatalf("expected correlation echo, got %q", got)
	}
}

func TestCorrelationGeneratedWhenAbsent(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Header().Get("X-Correlation-Id") == "" {
		t.Fatal("expected generated correlation id header")
	}
}

func TestProbes(t *testing.T) {
	t.Parallel()

	mux, _ := newTestMux(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
