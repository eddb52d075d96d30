package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/domain"
	"github.com/atvirokodosprendimai/gbfsvalidator/internal/core/usecase"
)

const (
	maxJSONBodySize   = 1 << 20
	maxFeedsBodySize  = 64 << 20
	defaultReportsMax = 50
)

type Handler struct {
	reports   *usecase.ReportService
	validator *usecase.Validator
	metrics   http.Handler
	log       *zap.SugaredLogger
}

// NewHandler serves the validation API. metrics may be nil, in which case
// /metrics is not mounted.
func NewHandler(reports *usecase.ReportService, validator *usecase.Validator, metrics http.Handler, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{reports: reports, validator: validator, metrics: metrics, log: log}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	r.Get("/healthz", h.healthz)
	r.Get("/openapi.json", h.openapi)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/validate", h.validateURL)
		v1.Post("/validate/files", h.validateFeeds)
		v1.Post("/validate/files/{feed}", h.validateFile)
		v1.Get("/reports", h.listReports)
		v1.Get("/reports/{id}", h.getReport)
	})

	return r
}

type validateURLRequest struct {
	FeedURL string `json:"feedUrl"`
}

type validateFeedsRequest struct {
	Feeds map[string]json.RawMessage `json:"feeds"`
}

func (h *Handler) validateURL(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)

	var req validateURLRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	res, err := h.reports.ValidateURL(r.Context(), req.FeedURL)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) validateFeeds(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFeedsBodySize)

	var req validateFeedsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := ensureEOF(decoder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	feeds := make(map[string][]byte, len(req.Feeds))
	for name, raw := range req.Feeds {
		feeds[name] = feedText(raw)
	}

	res, err := h.reports.ValidateFeeds(r.Context(), feeds)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// feedText returns the submitted document. A JSON string is taken as the
// raw text of the document so malformed files can be submitted.
func feedText(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return []byte(text)
		}
	}
	return trimmed
}

func (h *Handler) validateFile(w http.ResponseWriter, r *http.Request) {
	feed := chi.URLParam(r, "feed")
	r.Body = http.MaxBytesReader(w, r.Body, maxFeedsBodySize)

	outcome, err := h.validator.ValidateFile(r.Context(), feed, r.Body)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) listReports(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	filter := domain.ReportFilter{
		FeedURL: r.URL.Query().Get("feedUrl"),
		Limit:   limit,
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "before must be an RFC 3339 timestamp")
			return
		}
		filter.Before = before
	}

	reports, err := h.reports.List(r.Context(), filter)
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	if reports == nil {
		reports = []domain.ReportSummary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

func (h *Handler) getReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.reports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"versions": usecase.SupportedVersions(),
	})
}

func (h *Handler) openapi(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, openapiSpec())
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := defaultReportsMax
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be integer")
			return 0, false
		}
		limit = parsed
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

func (h *Handler) handleDomainError(w http.ResponseWriter, err error) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidFeedName),
		errors.Is(err, domain.ErrUnsupportedVersion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSchemaNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, usecase.ErrStorageDisabled):
		writeError(w, http.StatusNotImplemented, err.Error())
	default:
		h.log.Errorw("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func ensureEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	return errors.New("extra json tokens")
}

func openapiSpec() map[string]any {
	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "gbfsvalidator",
			"version": "1.0.0",
		},
		"paths": map[string]any{
			"/v1/validate": map[string]any{
				"post": map[string]any{"summary": "Load a feed from its discovery URL and validate it"},
			},
			"/v1/validate/files": map[string]any{
				"post": map[string]any{"summary": "Validate submitted feed documents"},
			},
			"/v1/validate/files/{feed}": map[string]any{
				"post": map[string]any{"summary": "Validate one feed document"},
			},
			"/v1/reports": map[string]any{
				"get": map[string]any{"summary": "List stored reports"},
			},
			"/v1/reports/{id}": map[string]any{
				"get": map[string]any{"summary": "Get a stored report"},
			},
		},
	}
}
