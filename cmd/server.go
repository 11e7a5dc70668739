package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/blob"
	"github.com/sells-group/tender-cli/internal/docx"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/pipeline"
	"github.com/sells-group/tender-cli/internal/report"
	"github.com/sells-group/tender-cli/internal/scheduler"
	"github.com/sells-group/tender-cli/internal/store"
	"github.com/sells-group/tender-cli/internal/template"
)

const (
	maxUploadBytes  = 50 << 20
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type server struct {
	pipeline *pipeline.Pipeline
	store    store.Store
}

// buildRouter wires the HTTP API over p. origins lists the CORS origins
// allowed to call it.
func buildRouter(p *pipeline.Pipeline, st store.Store, origins []string) http.Handler {
	s := &server{pipeline: p, store: st}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{
			report.HeaderTotal, report.HeaderInjected, report.HeaderMissing,
			report.HeaderNotFound, report.HeaderWarnings, report.HeaderSuccess,
			"Content-Disposition",
		},
		MaxAge: 300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Route("/documents/{documentID}", func(r chi.Router) {
			r.Put("/", s.uploadDocument)
			r.Post("/parse", s.parseDocument)
			r.Get("/questions", s.listQuestions)
			r.Get("/validate", s.validateDocument)
			r.Post("/export", s.exportDocument)
		})
		r.Put("/sources/{name}", s.uploadSource)
		r.Post("/requirements", s.startRequirements)
		r.Get("/requirements", s.listRequirements)
		r.Get("/jobs", s.listJobs)
	})

	r.Get("/jobs/{jobID}", s.getJob)
	r.Delete("/jobs/{jobID}", s.abandonJob)

	return r
}

func (s *server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	projectID, documentID := chi.URLParam(r, "projectID"), chi.URLParam(r, "documentID")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	if err := s.pipeline.UploadDocument(r.Context(), projectID, documentID, data, ""); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"project_id":  projectID,
		"document_id": documentID,
		"key":         blob.OriginalKey(projectID, documentID),
	})
}

func (s *server) uploadSource(w http.ResponseWriter, r *http.Request) {
	projectID, name := chi.URLParam(r, "projectID"), chi.URLParam(r, "name")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	key, err := s.pipeline.UploadSource(r.Context(), projectID, name, data)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

func (s *server) parseDocument(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.ParseTemplate(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *server) listQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.pipeline.Questions(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (s *server) validateDocument(w http.ResponseWriter, r *http.Request) {
	res, err := s.pipeline.Validate(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "documentID"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type exportRequest struct {
	Answers map[string]string `json:"answers"`
}

func (s *server) exportDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	out, err := s.pipeline.Export(r.Context(), chi.URLParam(r, "projectID"), documentID, req.Answers)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	for k, v := range report.Headers(out.Report) {
		w.Header().Set(k, v)
	}

	switch r.URL.Query().Get("report") {
	case "only":
		writeJSON(w, http.StatusOK, out.Report)
		return
	case "xlsx":
		var buf bytes.Buffer
		if err := report.WriteXLSX(&buf, out.Report); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeFile(w, contentTypeXLSX, documentID+"-report.xlsx", buf.Bytes())
		return
	}
	writeFile(w, blob.ContentTypeDocx, documentID+".docx", out.Bytes)
}

type requirementsRequest struct {
	SourceKeys []string `json:"source_keys"`
}

func (s *server) startRequirements(w http.ResponseWriter, r *http.Request) {
	var req requirementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	start, err := s.pipeline.StartRequirements(r.Context(), chi.URLParam(r, "projectID"), req.SourceKeys)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, start)
}

func (s *server) listRequirements(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	reqs, err := s.pipeline.ListRequirements(r.Context(), projectID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if r.URL.Query().Get("format") == "xlsx" {
		var buf bytes.Buffer
		if err := report.WriteRequirementsXLSX(&buf, reqs); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeFile(w, contentTypeXLSX, projectID+"-requirements.xlsx", buf.Bytes())
		return
	}
	if reqs == nil {
		reqs = []model.Requirement{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		ProjectID: chi.URLParam(r, "projectID"),
		Status:    model.JobStatus(q.Get("status")),
		Type:      model.JobType(q.Get("type")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
			return
		}
		filter.Limit = n
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if jobs == nil {
		jobs = []model.BackgroundJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// getJob prefers the scheduler's live view and falls back to the store for
// jobs finished before this process started.
func (s *server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := s.pipeline.Scheduler().Get(jobID)
	if err == nil {
		writeJSON(w, http.StatusOK, job)
		return
	}
	if !errors.Is(err, scheduler.ErrJobNotFound) {
		writeError(w, statusFor(err), err)
		return
	}

	stored, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

func (s *server) abandonJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	sched := s.pipeline.Scheduler()

	resumed, err := sched.AbandonJob(r.Context(), jobID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	job, err := sched.Get(jobID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "resumed": resumed})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrInvalidID), errors.Is(err, pipeline.ErrNoSources):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, blob.ErrNotFound), errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrJobInFlight), errors.Is(err, scheduler.ErrInvalidTransition),
		errors.Is(err, template.ErrStaleTemplate):
		return http.StatusConflict
	case docx.IsStructureError(err), errors.Is(err, template.ErrInvalidTemplate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		zap.L().Error("http request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeFile(w http.ResponseWriter, contentType, filename string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
