package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/api3dao/commons-go/internal/config"
	"github.com/api3dao/commons-go/internal/metrics"
	"github.com/api3dao/commons-go/pkg/auth"
	"github.com/api3dao/commons-go/pkg/logger"
	"github.com/api3dao/commons-go/pkg/ois"
	"github.com/api3dao/commons-go/pkg/processing"
	"github.com/api3dao/commons-go/pkg/schema"
)

const (
	phasePre  = "pre-processing"
	phasePost = "post-processing"
)

// Handler contains all HTTP handlers.
type Handler struct {
	processor *processing.Processor
	endpoints *config.Endpoints
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

// NewHandler creates a new handler.
func NewHandler(processor *processing.Processor, endpoints *config.Endpoints, m *metrics.Metrics, log *logger.Logger) *Handler {
	if processor == nil {
		processor = processing.NewProcessor(processing.WithLogger(log))
	}
	return &Handler{
		processor: processor,
		endpoints: endpoints,
		metrics:   m,
		logger:    log,
	}
}

// PreProcessRequest is the body of POST /api/v1/preprocess.
type PreProcessRequest struct {
	Endpoint   *ois.Endpoint         `json:"endpoint"`
	Parameters processing.Parameters `json:"parameters"`
}

// PostProcessRequest is the body of POST /api/v1/postprocess.
type PostProcessRequest struct {
	Endpoint   *ois.Endpoint         `json:"endpoint"`
	Response   interface{}           `json:"response"`
	Parameters processing.Parameters `json:"parameters"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error  string         `json:"error"`
	Kind   string         `json:"kind,omitempty"`
	Issues []schema.Issue `json:"issues,omitempty"`
}

// HealthCheck handles health check requests.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status":  "healthy",
		"service": "processing",
	}
	if h.endpoints != nil {
		body["endpointsHash"] = h.endpoints.Hash
	}
	h.jsonResponse(w, body, http.StatusOK)
}

// PreProcess runs pre-processing for an endpoint supplied in the request.
func (h *Handler) PreProcess(w http.ResponseWriter, r *http.Request) {
	var req PreProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Endpoint == nil {
		h.errorResponse(w, "endpoint is required", http.StatusBadRequest)
		return
	}
	if err := req.Endpoint.Validate(); err != nil {
		h.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.preProcess(r.Context(), w, req.Endpoint, req.Parameters)
}

// PostProcess runs post-processing for an endpoint supplied in the request.
func (h *Handler) PostProcess(w http.ResponseWriter, r *http.Request) {
	var req PostProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Endpoint == nil {
		h.errorResponse(w, "endpoint is required", http.StatusBadRequest)
		return
	}
	if err := req.Endpoint.Validate(); err != nil {
		h.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.postProcess(r.Context(), w, req.Endpoint, req.Response, req.Parameters)
}

// ListEndpoints returns the names of the configured endpoints.
func (h *Handler) ListEndpoints(w http.ResponseWriter, r *http.Request) {
	names := []string{}
	if h.endpoints != nil {
		for name := range h.endpoints.ByName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	h.jsonResponse(w, map[string]interface{}{"endpoints": names}, http.StatusOK)
}

// PreProcessNamed runs pre-processing for a configured endpoint.
func (h *Handler) PreProcessNamed(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.endpoints.Lookup(chi.URLParam(r, "name"))
	if !ok {
		h.errorResponse(w, "endpoint not found", http.StatusNotFound)
		return
	}

	var req struct {
		Parameters processing.Parameters `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.preProcess(r.Context(), w, endpoint, req.Parameters)
}

// PostProcessNamed runs post-processing for a configured endpoint.
func (h *Handler) PostProcessNamed(w http.ResponseWriter, r *http.Request) {
	endpoint, ok := h.endpoints.Lookup(chi.URLParam(r, "name"))
	if !ok {
		h.errorResponse(w, "endpoint not found", http.StatusNotFound)
		return
	}

	var req struct {
		Response   interface{}           `json:"response"`
		Parameters processing.Parameters `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	h.postProcess(r.Context(), w, endpoint, req.Response, req.Parameters)
}

func (h *Handler) preProcess(ctx context.Context, w http.ResponseWriter, endpoint *ois.Endpoint, params processing.Parameters) {
	if params == nil {
		params = processing.Parameters{}
	}
	ctx = logger.WithFields(ctx, logger.Fields{"authenticated": auth.IsAuthenticated(ctx)})

	done := h.metrics.Track()
	start := time.Now()
	result, err := h.processor.PreProcess(ctx, endpoint, params)
	done()
	h.metrics.Observe(phasePre, outcome(err), time.Since(start))

	if err != nil {
		h.processingError(ctx, w, phasePre, err)
		return
	}
	h.jsonResponse(w, result, http.StatusOK)
}

func (h *Handler) postProcess(ctx context.Context, w http.ResponseWriter, endpoint *ois.Endpoint, response interface{}, params processing.Parameters) {
	if params == nil {
		params = processing.Parameters{}
	}
	ctx = logger.WithFields(ctx, logger.Fields{"authenticated": auth.IsAuthenticated(ctx)})

	done := h.metrics.Track()
	start := time.Now()
	result, err := h.processor.PostProcess(ctx, endpoint, response, params)
	done()
	h.metrics.Observe(phasePost, outcome(err), time.Since(start))

	if err != nil {
		h.processingError(ctx, w, phasePost, err)
		return
	}
	h.jsonResponse(w, result, http.StatusOK)
}

func outcome(err error) string {
	var validationErr *schema.ValidationError
	switch {
	case err == nil:
		return "success"
	case isTimeout(err):
		return "timeout"
	case errors.As(err, &validationErr):
		return "validation"
	default:
		return "error"
	}
}

func isTimeout(err error) bool {
	return processing.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded)
}

// processingError maps processing failures onto HTTP statuses.
func (h *Handler) processingError(ctx context.Context, w http.ResponseWriter, phase string, err error) {
	h.logger.Warn(ctx, "Processing failed", logger.Fields{"phase": phase, "error": err.Error()})

	var (
		validationErr *schema.ValidationError
		syntaxErr     *processing.SyntaxError
		thrownErr     *processing.ThrownError
	)
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case isTimeout(err):
		resp.Kind = "timeout"
		status = http.StatusGatewayTimeout
	case errors.As(err, &validationErr):
		resp.Kind = "validation"
		resp.Issues = validationErr.Issues
		status = http.StatusUnprocessableEntity
	case errors.As(err, &syntaxErr):
		resp.Kind = "syntax"
		status = http.StatusUnprocessableEntity
	case errors.As(err, &thrownErr):
		resp.Kind = "thrown"
		status = http.StatusUnprocessableEntity
	}

	h.jsonResponse(w, resp, status)
}

func (h *Handler) jsonResponse(w http.ResponseWriter, body interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, ErrorResponse{Error: message}, status)
}
