// Package api exposes the HTTP surface: run start/resume, run inspection
// and the document library.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/planforge/planforge/internal/library"
	"github.com/planforge/planforge/internal/run"
	"github.com/planforge/planforge/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB

// Orchestrator abstracts the run workflows for the API layer.
type Orchestrator interface {
	Start(ctx context.Context, kind string, input run.StartInput, emit run.EmitFunc) (string, error)
	Resume(ctx context.Context, runID string, input run.ResumeInput) (*run.ResumeResult, error)
}

// RunStore is the read surface for run inspection endpoints.
type RunStore interface {
	GetRun(id string) (storage.Run, error)
	GetRecentRuns(limit int) ([]storage.Run, error)
	ListResults(runID string) ([]storage.Result, error)
}

// LibraryService abstracts document ingestion and search.
type LibraryService interface {
	IngestText(ctx context.Context, title, text string) (library.Document, error)
	IngestURL(ctx context.Context, url string) (library.Document, error)
	IngestPDF(ctx context.Context, title string, r io.ReaderAt, size int64) (library.Document, error)
	Search(ctx context.Context, query string, topK int) ([]library.Hit, error)
	Documents(limit int) ([]library.Document, error)
}

type AppDeps struct {
	Orchestrator Orchestrator
	Runs         RunStore
	Library      LibraryService
	Token        string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/runs/start", handleStartRun(deps))
		r.Post("/runs/{id}/resume", handleResumeRun(deps))
		r.Get("/runs", handleListRuns(deps))
		r.Get("/runs/{id}", handleGetRun(deps))
		r.Get("/runs/{id}/results", handleRunResults(deps))

		r.Post("/library/ingest", handleLibraryIngest(deps))
		r.Get("/library/search", handleLibrarySearch(deps))
		r.Get("/library/documents", handleLibraryDocuments(deps))
	})

	return r
}

type startRequest struct {
	Kind  string         `json:"kind"`
	Input run.StartInput `json:"input"`
}

// handleStartRun opens an SSE stream and executes the workflow on it. The
// stream closes after the terminal event; the caller continues via resume.
func handleStartRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Kind != run.KindTheme && req.Kind != run.KindPlan {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "kind must be %q or %q", run.KindTheme, run.KindPlan)
			return
		}

		sse, err := newSSEWriter(w)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		_, err = deps.Orchestrator.Start(r.Context(), req.Kind, req.Input, func(e run.Event) {
			sse.Send(e)
		})
		if err != nil {
			// Start failed before the stream produced anything useful.
			sse.Send(run.Event{Type: run.EventProgress, Message: fmt.Sprintf("%s_workflow_error=%v", req.Kind, err)})
		}
	}
}

func handleResumeRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		runID := chi.URLParam(r, "id")

		var req run.ResumeInput
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		res, err := deps.Orchestrator.Resume(r.Context(), runID, req)
		if err != nil {
			switch {
			case errors.Is(err, run.ErrInvalidInput):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			case errors.Is(err, run.ErrRunNotResumable):
				if _, gerr := deps.Runs.GetRun(runID); errors.Is(gerr, storage.ErrNotFound) {
					httpError(w, http.StatusNotFound, "not_found_error", "run %s not found", runID)
					return
				}
				httpError(w, http.StatusConflict, "conflict_error", "%v", err)
			default:
				httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			}
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

type runResponse struct {
	ID            string `json:"id"`
	ProjectID     string `json:"projectId,omitempty"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	SuspendReason string `json:"suspendReason,omitempty"`
	StartedAt     string `json:"startedAt"`
	FinishedAt    string `json:"finishedAt,omitempty"`
}

func toRunResponse(r storage.Run) runResponse {
	resp := runResponse{
		ID:            r.ID,
		ProjectID:     r.ProjectID,
		Kind:          r.Kind,
		Status:        r.Status,
		SuspendReason: r.SuspendReason,
		StartedAt:     r.StartedAt.UTC().Format(time.RFC3339),
	}
	if !r.FinishedAt.IsZero() {
		resp.FinishedAt = r.FinishedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func handleGetRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		rec, err := deps.Runs.GetRun(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "run %s not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, toRunResponse(rec))
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 20)
		runs, err := deps.Runs.GetRecentRuns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		out := make([]runResponse, 0, len(runs))
		for _, rec := range runs {
			out = append(out, toRunResponse(rec))
		}
		writeJSON(w, http.StatusOK, map[string]any{"runs": out})
	}
}

func handleRunResults(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Runs.GetRun(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "run %s not found", id)
			return
		}

		results, err := deps.Runs.ListResults(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}

		type resultResponse struct {
			ID        string          `json:"id"`
			Type      string          `json:"type"`
			Payload   json.RawMessage `json:"payload"`
			CreatedAt string          `json:"createdAt"`
		}
		out := make([]resultResponse, 0, len(results))
		for _, res := range results {
			out = append(out, resultResponse{
				ID:        res.ID,
				Type:      res.Type,
				Payload:   json.RawMessage(res.Payload),
				CreatedAt: res.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": out})
	}
}

type ingestRequest struct {
	Type    string `json:"type"` // "text", "url", "file"
	Title   string `json:"title"`
	Content string `json:"content"` // raw text, or base64 for file
	URL     string `json:"url"`
}

func handleLibraryIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Type == "" {
			req.Type = "text"
		}

		var doc library.Document
		var err error
		switch req.Type {
		case "text":
			if req.Content == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
				return
			}
			doc, err = deps.Library.IngestText(r.Context(), req.Title, req.Content)
		case "url":
			if req.URL == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "url is required")
				return
			}
			doc, err = deps.Library.IngestURL(r.Context(), req.URL)
		case "file":
			if req.Content == "" {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
				return
			}
			decoded, derr := base64.StdEncoding.DecodeString(req.Content)
			if derr != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "content must be base64: %v", derr)
				return
			}
			doc, err = deps.Library.IngestPDF(r.Context(), req.Title, bytes.NewReader(decoded), int64(len(decoded)))
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown ingest type %q", req.Type)
			return
		}
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "ingest failed: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
	}
}

func handleLibrarySearch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		topK := queryInt(r, "k", 5)

		hits, err := deps.Library.Search(r.Context(), query, topK)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}
		if hits == nil {
			hits = []library.Hit{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"hits": hits})
	}
}

func handleLibraryDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50)
		docs, err := deps.Library.Documents(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		if docs == nil {
			docs = []library.Document{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
