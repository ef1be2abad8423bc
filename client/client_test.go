package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pkt.systems/farmd/api"
	"pkt.systems/farmd/client"
)

func TestSubmitFoodSendsBareNumber(t *testing.T) {
	t.Parallel()

	var gotBody string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(api.SubmitResult{IsAccepted: true})
	}))
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := c.SubmitFood(context.Background(), 12.5)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.IsAccepted {
		t.Fatalf("expected acceptance, got %+v", result)
	}
	if gotPath != "/v1/submit/food" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotBody != "12.5" {
		t.Fatalf("unexpected body %q", gotBody)
	}
}

func TestSubmitPropagatesRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.SubmitResult{IsAccepted: false, FailReason: "FarmSelling"})
	}))
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := c.SubmitWater(context.Background(), 5)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.IsAccepted || result.FailReason != "FarmSelling" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestCorrelationHeaderFromContext(t *testing.T) {
	t.Parallel()

	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Correlation-Id")
		json.NewEncoder(w).Encode(api.SubmitResult{IsAccepted: true})
	}))
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := client.WithCorrelationID(context.Background(), "corr-42")
	if _, err := c.SubmitFood(ctx, 1); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotHeader != "corr-42" {
		t.Fatalf("expected correlation header, got %q", gotHeader)
	}
}

func TestAPIErrorFromErrorResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(api.ErrorResponse{ErrorCode: "invalid_amount", Detail: "bad payload"})
	}))
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.SubmitFood(context.Background(), 1)
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.ErrorCode != "invalid_amount" || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("unexpected APIError: %+v", apiErr)
	}
}

func TestRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(api.ErrorResponse{ErrorCode: "internal_error"})
			return
		}
		json.NewEncoder(w).Encode(api.SubmitResult{IsAccepted: true})
	}))
	defer srv.Close()

	c, err := client.New(srv.URL, client.WithRetryBackoff(time.Millisecond))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	result, err := c.SubmitFood(context.Background(), 2)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.IsAccepted {
		t.Fatalf("expected acceptance after retry, got %+v", result)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.FarmStatus{AccumulatedFood: 3, FarmSize: 0.5})
	}))
	defer srv.Close()

	c, err := client.New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.AccumulatedFood != 3 || status.FarmSize != 0.5 {
		t.Fatalf("unexpected status: %+v", status)
	}
}
