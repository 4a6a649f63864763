package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/ingest"
	"github.com/systemshift/flightgraph/internal/ledger"
	"github.com/systemshift/flightgraph/internal/metrics"
	"github.com/systemshift/flightgraph/internal/records"
	"github.com/systemshift/flightgraph/internal/server/stream"
	"github.com/systemshift/flightgraph/internal/version"
)

// ImportRunner starts background imports and reports their progress.
type ImportRunner interface {
	Start(ctx context.Context, done func(ingest.Report, error)) error
	Status() ingest.Status
}

// FlightSubmitter accepts flight records for streaming ingestion.
type FlightSubmitter interface {
	Submit(ctx context.Context, recs []records.FlightRecord) error
	Stats() stream.Stats
}

// RunHistory lists past imports.
type RunHistory interface {
	Runs(ctx context.Context, limit int) ([]ledger.Run, error)
	LastBatch(ctx context.Context, runID string) (ledger.Batch, error)
}

// Server holds the HTTP server dependencies
type Server struct {
	store   graph.Store
	log     logrus.FieldLogger
	imports ImportRunner
	stream  FlightSubmitter
	history RunHistory
	metrics *metrics.Collector

	// baseCtx outlives requests; background imports run under it.
	baseCtx context.Context
}

// Option configures a Server.
type Option func(*Server)

func WithImports(r ImportRunner) Option       { return func(s *Server) { s.imports = r } }
func WithStream(f FlightSubmitter) Option     { return func(s *Server) { s.stream = f } }
func WithHistory(h RunHistory) Option         { return func(s *Server) { s.history = h } }
func WithMetrics(c *metrics.Collector) Option { return func(s *Server) { s.metrics = c } }

// WithBaseContext sets the context background imports run under.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// New creates a new API server
func New(store graph.Store, log logrus.FieldLogger, opts ...Option) *Server {
	s := &Server{store: store, log: log, baseCtx: context.Background()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HealthCheck handles GET /health
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// StatusResponse is the response for GET /api/status
type StatusResponse struct {
	Version version.Info  `json:"version"`
	Import  *ingest.Status `json:"import,omitempty"`
	Stream  *stream.Stats  `json:"stream,omitempty"`
}

// Status handles GET /api/status
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Version: version.Get()}
	if s.imports != nil {
		st := s.imports.Status()
		resp.Import = &st
	}
	if s.stream != nil {
		st := s.stream.Stats()
		resp.Stream = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// Counts handles GET /api/counts
func (s *Server) Counts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Relationships handles GET /api/relationships/{type}?limit=N
func (s *Server) Relationships(w http.ResponseWriter, r *http.Request) {
	limit, err := limitParam(r, 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rels, err := s.store.Relationships(r.Context(), chi.URLParam(r, "type"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rels == nil {
		rels = []graph.Relationship{}
	}
	writeJSON(w, http.StatusOK, rels)
}

// RunResponse is one entry of GET /api/runs. Failed runs carry the last
// batch that committed.
type RunResponse struct {
	ledger.Run
	LastBatch *ledger.Batch `json:"last_batch,omitempty"`
}

// Runs handles GET /api/runs?limit=N
func (s *Server) Runs(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotImplemented, errors.New("run history is not configured"))
		return
	}
	limit, err := limitParam(r, 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	runs, err := s.history.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := make([]RunResponse, 0, len(runs))
	for _, run := range runs {
		entry := RunResponse{Run: run}
		if run.State == string(ingest.StateFailed) {
			last, err := s.history.LastBatch(r.Context(), run.ID)
			switch {
			case err == nil:
				entry.LastBatch = &last
			case errors.Is(err, ledger.ErrRunNotFound):
				// Failed before any batch committed.
			default:
				writeError(w, http.StatusInternalServerError, err)
				return
			}
		}
		resp = append(resp, entry)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SubmitFlights handles POST /api/flights with a JSON array of records.
func (s *Server) SubmitFlights(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeError(w, http.StatusNotImplemented, errors.New("streaming ingestion is not configured"))
		return
	}

	var recs []records.FlightRecord
	if err := json.NewDecoder(r.Body).Decode(&recs); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := s.stream.Submit(r.Context(), recs)
	var dataErr *records.SourceDataError
	switch {
	case err == nil:
	case errors.As(err, &dataErr):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.Is(err, stream.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(recs)})
}

// StartImport handles POST /api/imports
func (s *Server) StartImport(w http.ResponseWriter, r *http.Request) {
	if s.imports == nil {
		writeError(w, http.StatusNotImplemented, errors.New("imports are not configured"))
		return
	}

	err := s.imports.Start(s.baseCtx, func(report ingest.Report, err error) {
		if err != nil {
			s.log.WithError(err).WithField("run_id", report.RunID).Error("background import failed")
		}
	})
	if errors.Is(err, ingest.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusAccepted, s.imports.Status())
}

func limitParam(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}
