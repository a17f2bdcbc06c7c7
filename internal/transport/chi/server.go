// Package chi exposes the recall engine over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	chirouter "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/recall/internal/domain"
	healthuc "github.com/kailas-cloud/recall/internal/usecase/health"
	ingestuc "github.com/kailas-cloud/recall/internal/usecase/ingest"
	routeruc "github.com/kailas-cloud/recall/internal/usecase/router"
	usageuc "github.com/kailas-cloud/recall/internal/usecase/usage"
)

const maxBatchSize = 500

type errorCode string

const (
	codeBadRequest       errorCode = "bad_request"
	codeValidationFailed errorCode = "validation_failed"
	codeAllEnginesFailed errorCode = "all_engines_failed"
	codeInternalError    errorCode = "internal_error"
)

// ErrorResponse is the JSON error body for every non-2xx response.
type ErrorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}

// QueryRouter answers questions, falling through engines as needed.
type QueryRouter interface {
	Route(ctx context.Context, question string, topK int) (domain.QueryResult, error)
}

// Ingestor stores batches of raw source records.
type Ingestor interface {
	IngestBatch(ctx context.Context, records []domain.SourceRecord) (ingestuc.Result, error)
}

// ViewLister exposes the declared structured views.
type ViewLister interface {
	Views() []domain.StructuredView
}

// IndexRefresher rebuilds the vector index when the episode set changed.
type IndexRefresher interface {
	Warm(ctx context.Context) error
}

// Server is the HTTP API for querying and feeding the timeline.
type Server struct {
	router QueryRouter
	ingest Ingestor
	views  ViewLister
	index  IndexRefresher
	usage  *usageuc.Service
	health *healthuc.Service
	logger *zap.Logger
}

// NewServer creates an HTTP API server. index may be nil.
func NewServer(
	router QueryRouter,
	ingest Ingestor,
	views ViewLister,
	index IndexRefresher,
	usage *usageuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	return &Server{
		router: router,
		ingest: ingest,
		views:  views,
		index:  index,
		usage:  usage,
		health: health,
		logger: logger,
	}
}

// Register mounts all routes on the given router.
func (s *Server) Register(r chirouter.Router) {
	r.Post("/v1/query", s.PostQuery)
	r.Post("/v1/records", s.PostRecords)
	r.Get("/v1/views", s.GetViews)
	r.Get("/v1/usage", s.GetUsage)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// QueryRequest is the body of POST /v1/query. K overrides how many episodes
// retrieval considers; 0 keeps the configured default.
type QueryRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// failedResponse is returned when every applicable engine failed. The trace
// is included so callers can see what was tried.
type failedResponse struct {
	Code     errorCode        `json:"code"`
	Message  string           `json:"message"`
	TraceID  string           `json:"trace_id"`
	Attempts []domain.Attempt `json:"attempts"`
}

// PostQuery handles POST /v1/query.
func (s *Server) PostQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "question is required")
		return
	}
	if req.K < 0 {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "k must not be negative")
		return
	}

	result, err := s.router.Route(r.Context(), req.Question, req.K)
	if err != nil {
		s.handleQueryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQueryError(w http.ResponseWriter, err error) {
	var failed *routeruc.FailedError
	if errors.As(err, &failed) {
		s.logger.Warn("All engines failed",
			zap.String("trace_id", failed.TraceID),
			zap.Int("attempts", len(failed.Attempts)))
		writeJSON(w, http.StatusBadGateway, failedResponse{
			Code:     codeAllEnginesFailed,
			Message:  domain.ErrAllEnginesFailed.Error(),
			TraceID:  failed.TraceID,
			Attempts: failed.Attempts,
		})
		return
	}
	s.logger.Error("Query failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

// RecordPayload is one raw source record in an ingestion batch.
type RecordPayload struct {
	SourceType string         `json:"source_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Fields     map[string]any `json:"fields"`
	Provenance string         `json:"provenance,omitempty"`
}

// RecordsRequest is the body of POST /v1/records.
type RecordsRequest struct {
	Records []RecordPayload `json:"records"`
}

// PostRecords handles POST /v1/records.
func (s *Server) PostRecords(w http.ResponseWriter, r *http.Request) {
	var req RecordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.Records) == 0 || len(req.Records) > maxBatchSize {
		writeError(w, http.StatusBadRequest, codeValidationFailed,
			fmt.Sprintf("records count must be between 1 and %d", maxBatchSize))
		return
	}

	records := make([]domain.SourceRecord, len(req.Records))
	for i, rec := range req.Records {
		records[i] = domain.SourceRecord{
			SourceType: rec.SourceType,
			Timestamp:  rec.Timestamp,
			Fields:     rec.Fields,
			Provenance: rec.Provenance,
		}
	}

	result, err := s.ingest.IngestBatch(r.Context(), records)
	if err != nil {
		s.logger.Error("Batch ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
		return
	}

	// Refresh the index so new episodes are searchable. Best-effort: a failed
	// rebuild keeps serving the previous index.
	if s.index != nil && result.Stored > 0 {
		if err := s.index.Warm(r.Context()); err != nil {
			s.logger.Warn("Index refresh after ingest failed", zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, result)
}

// ViewColumn is the wire shape of one view column.
type ViewColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ViewResponse is the wire shape of one structured view.
type ViewResponse struct {
	Name    string       `json:"name"`
	Columns []ViewColumn `json:"columns"`
}

// ViewListResponse is the body of GET /v1/views.
type ViewListResponse struct {
	Views []ViewResponse `json:"views"`
}

// GetViews handles GET /v1/views.
func (s *Server) GetViews(w http.ResponseWriter, r *http.Request) {
	views := s.views.Views()

	resp := ViewListResponse{Views: make([]ViewResponse, len(views))}
	for i, v := range views {
		cols := make([]ViewColumn, len(v.Columns))
		for j, c := range v.Columns {
			cols[j] = ViewColumn{Name: c.Name, Type: string(c.Type)}
		}
		resp.Views[i] = ViewResponse{Name: v.Name, Columns: cols}
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUsage handles GET /v1/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	period := usageuc.ParsePeriod(r.URL.Query().Get("period"))
	report := s.usage.GetReport(r.Context(), period)
	writeJSON(w, http.StatusOK, report)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}
