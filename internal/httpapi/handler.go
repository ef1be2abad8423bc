// Package httpapi wires the REST endpoints to the farm ledger. The broker RPC
// surface in internal/rpc carries the same operations for queue-based
// producers; this package serves plain HTTP producers and probes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/farmd/api"
	"pkt.systems/farmd/internal/correlation"
	"pkt.systems/farmd/internal/farm"
	"pkt.systems/farmd/internal/svcfields"
	"pkt.systems/farmd/internal/uuidv7"
)

const headerCorrelationID = "X-Correlation-Id"

const defaultJSONMaxBytes = 4 << 10

// Config parameterizes a Handler.
type Config struct {
	Farm         *farm.Ledger
	Logger       pslog.Logger
	JSONMaxBytes int64
}

// Handler wires HTTP endpoints to ledger operations.
type Handler struct {
	farm         *farm.Ledger
	logger       pslog.Logger
	jsonMaxBytes int64
}

// New constructs a Handler.
func New(cfg Config) *Handler {
	h := &Handler{
		farm:         cfg.Farm,
		logger:       cfg.Logger,
		jsonMaxBytes: cfg.JSONMaxBytes,
	}
	if h.logger == nil {
		h.logger = pslog.NoopLogger()
	}
	if h.jsonMaxBytes <= 0 {
		h.jsonMaxBytes = defaultJSONMaxBytes
	}
	return h
}

// Register installs all routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("/v1/submit/food", h.wrap("submit.food", h.handleSubmitFood))
	mux.Handle("/v1/submit/water", h.wrap("submit.water", h.handleSubmitWater))
	mux.Handle("/v1/status", h.wrap("status", h.handleStatus))
	// Short aliases matching the broker action names.
	mux.Handle("/submitFood", h.wrap("submit.food", h.handleSubmitFood))
	mux.Handle("/submitWater", h.wrap("submit.water", h.handleSubmitWater))
	mux.Handle("/healthz", h.wrap("healthz", h.handleHealth))
	mux.Handle("/readyz", h.wrap("readyz", h.handleReady))
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (h *Handler) wrap(operation string, fn handlerFunc) http.Handler {
	sys := "http." + operation
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := r.Context()
		reqID := uuidv7.NewString()

		logger := svcfields.WithSubsystem(h.logger, sys).With(
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = pslog.ContextWithLogger(ctx, logger)

		if corr := strings.TrimSpace(r.Header.Get(headerCorrelationID)); corr != "" {
			if normalized, ok := correlation.Normalize(corr); ok {
				ctx = correlation.Set(ctx, normalized)
			}
		}
		if !correlation.Has(ctx) {
			ctx = correlation.Set(ctx, correlation.Generate())
		}
		logger = logger.With("correlation_id", correlation.ID(ctx))
		ctx = pslog.ContextWithLogger(ctx, logger)
		r = r.WithContext(ctx)

		logger.Trace("http.request.start", "remote_addr", r.RemoteAddr)

		if err := fn(w, r); err != nil {
			logger.Debug("http.request.error", "elapsed", time.Since(start), "error", err)
			if corr := correlation.ID(ctx); corr != "" {
				w.Header().Set(headerCorrelationID, corr)
			}
			h.handleError(ctx, w, err)
			return
		}
		logger.Trace("http.request.done", "elapsed", time.Since(start))
	})
}

func (h *Handler) handleSubmitFood(w http.ResponseWriter, r *http.Request) error {
	return h.handleSubmit(w, r, farm.Food)
}

func (h *Handler) handleSubmitWater(w http.ResponseWriter, r *http.Request) error {
	return h.handleSubmit(w, r, farm.Water)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request, kind farm.Kind) error {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		return httpError{
			Status: http.StatusMethodNotAllowed,
			Code:   "method_not_allowed",
			Detail: "supported methods: POST",
		}
	}
	amount, err := decodeAmount(http.MaxBytesReader(w, r.Body, h.jsonMaxBytes))
	if err != nil {
		return httpError{
			Status: http.StatusBadRequest,
			Code:   "invalid_amount",
			Detail: err.Error(),
		}
	}
	result := h.farm.Submit(kind, amount)
	h.writeJSON(r.Context(), w, http.StatusOK, result)
	return nil
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) error {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		return httpError{
			Status: http.StatusMethodNotAllowed,
			Code:   "method_not_allowed",
			Detail: "supported methods: GET",
		}
	}
	h.writeJSON(r.Context(), w, http.StatusOK, h.farm.Snapshot())
	return nil
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

func (h *Handler) handleReady(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	return nil
}

// decodeAmount reads the submission payload: either a bare JSON number or an
// object with an "amount" field.
func decodeAmount(body io.Reader) (float64, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return 0, fmt.Errorf("read body: %w", err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return 0, errors.New("empty body, expected a JSON number")
	}
	if strings.HasPrefix(trimmed, "{") {
		var req api.SubmitRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return 0, fmt.Errorf("decode amount object: %w", err)
		}
		return req.Amount, nil
	}
	var amount float64
	if err := json.Unmarshal(data, &amount); err != nil {
		return 0, fmt.Errorf("decode amount: %w", err)
	}
	return amount, nil
}

func (h *Handler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	logger := pslog.LoggerFromContext(ctx)
	if logger == nil {
		logger = h.logger
	}
	var httpErr httpError
	if errors.As(err, &httpErr) {
		logger.Debug("http.request.failure",
			"status", httpErr.Status,
			"code", httpErr.Code,
			"detail", httpErr.Detail,
		)
		h.writeJSON(ctx, w, httpErr.Status, api.ErrorResponse{
			ErrorCode: httpErr.Code,
			Detail:    httpErr.Detail,
		})
		return
	}
	logger.Error("http.request.internal", "error", err)
	h.writeJSON(ctx, w, http.StatusInternalServerError, api.ErrorResponse{
		ErrorCode: "internal_error",
		Detail:    "internal server error",
	})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if corr := correlation.ID(ctx); corr != "" {
		w.Header().Set(headerCorrelationID, corr)
	}
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}

type httpError struct {
	Status int
	Code   string
	Detail string
}

func (e httpError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return e.Code
}
