package main

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chakssp/vcia-dhl-sub005/engine/confidence"
	"github.com/chakssp/vcia-dhl-sub005/engine/consolidator"
	"github.com/chakssp/vcia-dhl-sub005/engine/domain"
	"github.com/chakssp/vcia-dhl-sub005/engine/ingest"
	"github.com/chakssp/vcia-dhl-sub005/pkg/mid"
)

const maxBody = 32 << 20

// server exposes the service over HTTP.
type server struct {
	svc   *consolidator.Service
	log   *slog.Logger
	batch ingest.BatchOptions
	now   func() time.Time
}

func newServer(svc *consolidator.Service, batch ingest.BatchOptions, log *slog.Logger) *server {
	if log == nil {
		log = slog.Default()
	}
	return &server{svc: svc, log: log, batch: batch, now: time.Now}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /enrich/{id}", s.handleEnrich)
	mux.HandleFunc("POST /score/{id}", s.handleScore)
	mux.HandleFunc("GET /weights", s.handleGetWeights)
	mux.HandleFunc("PUT /weights", s.handlePutWeights)
	return mux
}

// handler is routes behind the middleware chain.
func (s *server) handler() http.Handler {
	return mid.Chain(s.routes(),
		mid.RequestID(),
		mid.Recover(s.log),
		mid.Logger(s.log),
		mid.Metrics(s.svc.Metrics()),
		mid.OTel("consolidator"),
	)
}

func writeResponse(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeResponse(w, status, map[string]string{"error": msg})
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func pathID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// failureStatus maps an outcome reason to a status code.
func failureStatus(reason string) int {
	switch {
	case strings.Contains(reason, domain.ErrPointNotFound.Error()):
		return http.StatusNotFound
	case strings.Contains(reason, domain.ErrStoreUnavailable.Error()):
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ready(r.Context()); err != nil {
		writeResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.svc.Stats()
	s.svc.Metrics().Handler().ServeHTTP(w, r)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Refresh(r.Context()); err != nil {
		s.log.Warn("stats: point count refresh failed", "error", err)
	}
	writeResponse(w, http.StatusOK, s.svc.Stats())
}

// ingestBody carries either one record or a batch.
type ingestBody struct {
	Record  *domain.Record  `json:"record,omitempty"`
	Records []domain.Record `json:"records,omitempty"`
	Options *ingest.Options `json:"options,omitempty"`
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var body ingestBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	opts := s.batch.Options
	if body.Options != nil {
		opts = *body.Options
		act, err := ingest.ParseAction(string(opts.Action))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Action = act
	}

	switch {
	case body.Record != nil:
		out := s.svc.InsertOrUpdate(r.Context(), *body.Record, opts)
		status := http.StatusOK
		if out.Action == ingest.OutcomeInserted {
			status = http.StatusCreated
		} else if !out.Success && !out.IsSkip() {
			status = failureStatus(out.Reason)
		}
		writeResponse(w, status, out)
	case len(body.Records) > 0:
		bopts := s.batch
		bopts.Options = opts
		bopts.Delay = -1
		sum := s.svc.IngestBatch(r.Context(), body.Records, bopts, nil)
		status := http.StatusOK
		if sum.Err != "" {
			status = failureStatus(sum.Err)
		}
		writeResponse(w, status, sum)
	default:
		writeError(w, http.StatusBadRequest, "record or records is required")
	}
}

func (s *server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid point id")
		return
	}
	var data map[string]any
	if err := decodeBody(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	out := s.svc.EnrichPoint(r.Context(), id, data)
	status := http.StatusOK
	if !out.Success {
		status = failureStatus(out.Reason)
	}
	writeResponse(w, status, out)
}

// scoreBody is the optional body of POST /score/{id}.
type scoreBody struct {
	Terms []string `json:"terms,omitempty"`
}

// handleScore aggregates confidence for a point; ?store=true persists it.
func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid point id")
		return
	}
	var body scoreBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sc := confidence.ScoreContext{Now: s.now(), Terms: body.Terms}

	if store, _ := strconv.ParseBool(r.URL.Query().Get("store")); store {
		out := s.svc.ScoreAndStore(r.Context(), id, sc)
		status := http.StatusOK
		if !out.Success {
			status = failureStatus(out.Reason)
		}
		writeResponse(w, status, out)
		return
	}

	res, err := s.svc.Score(r.Context(), id, sc)
	switch {
	case errors.Is(err, domain.ErrPointNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		s.log.Error("score failed", "point_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	default:
		writeResponse(w, http.StatusOK, res)
	}
}

func (s *server) handleGetWeights(w http.ResponseWriter, _ *http.Request) {
	writeResponse(w, http.StatusOK, s.svc.Weights())
}

func (s *server) handlePutWeights(w http.ResponseWriter, r *http.Request) {
	var m map[string]float64
	if err := decodeBody(r, &m); err != nil || len(m) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !s.svc.SetWeights(m) {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidWeights.Error())
		return
	}
	writeResponse(w, http.StatusOK, s.svc.Weights())
}
