package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/library"
	"github.com/planforge/planforge/internal/run"
	"github.com/planforge/planforge/internal/storage"
)

type mockOrchestrator struct {
	startFn  func(ctx context.Context, kind string, input run.StartInput, emit run.EmitFunc) (string, error)
	resumeFn func(ctx context.Context, runID string, input run.ResumeInput) (*run.ResumeResult, error)
}

func (m *mockOrchestrator) Start(ctx context.Context, kind string, input run.StartInput, emit run.EmitFunc) (string, error) {
	return m.startFn(ctx, kind, input, emit)
}

func (m *mockOrchestrator) Resume(ctx context.Context, runID string, input run.ResumeInput) (*run.ResumeResult, error) {
	return m.resumeFn(ctx, runID, input)
}

type mockRunStore struct {
	getFn     func(id string) (storage.Run, error)
	recentFn  func(limit int) ([]storage.Run, error)
	resultsFn func(runID string) ([]storage.Result, error)
}

func (m *mockRunStore) GetRun(id string) (storage.Run, error) {
	if m.getFn == nil {
		return storage.Run{}, storage.ErrNotFound
	}
	return m.getFn(id)
}

func (m *mockRunStore) GetRecentRuns(limit int) ([]storage.Run, error) {
	if m.recentFn == nil {
		return nil, nil
	}
	return m.recentFn(limit)
}

func (m *mockRunStore) ListResults(runID string) ([]storage.Result, error) {
	if m.resultsFn == nil {
		return nil, nil
	}
	return m.resultsFn(runID)
}

type mockLibrary struct {
	textFn   func(ctx context.Context, title, text string) (library.Document, error)
	searchFn func(ctx context.Context, query string, topK int) ([]library.Hit, error)
}

func (m *mockLibrary) IngestText(ctx context.Context, title, text string) (library.Document, error) {
	return m.textFn(ctx, title, text)
}

func (m *mockLibrary) IngestURL(context.Context, string) (library.Document, error) {
	return library.Document{}, fmt.Errorf("not implemented")
}

func (m *mockLibrary) IngestPDF(context.Context, string, io.ReaderAt, int64) (library.Document, error) {
	return library.Document{}, fmt.Errorf("not implemented")
}

func (m *mockLibrary) Search(ctx context.Context, query string, topK int) ([]library.Hit, error) {
	return m.searchFn(ctx, query, topK)
}

func (m *mockLibrary) Documents(int) ([]library.Document, error) {
	return nil, nil
}

func testServer(t *testing.T, deps AppDeps) *httptest.Server {
	t.Helper()
	if deps.Token == "" {
		deps.Token = "secret"
	}
	srv := httptest.NewServer(NewAppHandler(deps))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAuthRequired(t *testing.T) {
	srv := testServer(t, AppDeps{Runs: &mockRunStore{}})

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/runs", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/runs", "wrong", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestHealthzUnauthenticated(t *testing.T) {
	srv := testServer(t, AppDeps{})
	resp := doJSON(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStartRunStreamsSSE(t *testing.T) {
	orch := &mockOrchestrator{startFn: func(_ context.Context, kind string, _ run.StartInput, emit run.EmitFunc) (string, error) {
		emit(run.Event{Type: run.EventStarted, RunID: "r1"})
		emit(run.Event{Type: run.EventProgress, Message: "working"})
		emit(run.Event{Type: run.EventSuspend, RunID: "r1", Reason: run.ReasonSelectCandidate})
		return "r1", nil
	}}
	srv := testServer(t, AppDeps{Orchestrator: orch, Runs: &mockRunStore{}})

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/runs/start", "secret", map[string]any{
		"kind":  "theme",
		"input": map[string]string{"domain": "ai"},
	})
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	text := string(body)

	var dataLines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(dataLines) != 3 {
		t.Fatalf("got %d data frames, want 3:\n%s", len(dataLines), text)
	}
	// Heartbeat comment after each frame.
	if strings.Count(text, ":\n") < 3 {
		t.Errorf("missing heartbeat frames:\n%s", text)
	}

	var first run.Event
	if err := json.Unmarshal([]byte(dataLines[0]), &first); err != nil {
		t.Fatalf("decoding first frame: %v", err)
	}
	if first.Type != run.EventStarted || first.RunID != "r1" {
		t.Errorf("first event = %+v", first)
	}
	var last run.Event
	if err := json.Unmarshal([]byte(dataLines[2]), &last); err != nil {
		t.Fatalf("decoding last frame: %v", err)
	}
	if last.Type != run.EventSuspend || last.Reason != run.ReasonSelectCandidate {
		t.Errorf("last event = %+v", last)
	}
}

func TestStartRunRejectsUnknownKind(t *testing.T) {
	srv := testServer(t, AppDeps{Orchestrator: &mockOrchestrator{}, Runs: &mockRunStore{}})
	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/runs/start", "secret", map[string]any{"kind": "mystery"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestResumeStatusMapping(t *testing.T) {
	cases := []struct {
		name       string
		resumeErr  error
		runExists  bool
		wantStatus int
	}{
		{"invalid input", fmt.Errorf("wrap: %w", run.ErrInvalidInput), true, http.StatusBadRequest},
		{"unknown run", fmt.Errorf("wrap: %w", run.ErrRunNotResumable), false, http.StatusNotFound},
		{"already completed", fmt.Errorf("wrap: %w", run.ErrRunNotResumable), true, http.StatusConflict},
		{"internal", fmt.Errorf("boom"), true, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			orch := &mockOrchestrator{resumeFn: func(context.Context, string, run.ResumeInput) (*run.ResumeResult, error) {
				return nil, tc.resumeErr
			}}
			runs := &mockRunStore{getFn: func(id string) (storage.Run, error) {
				if tc.runExists {
					return storage.Run{ID: id, Status: "completed"}, nil
				}
				return storage.Run{}, storage.ErrNotFound
			}}
			srv := testServer(t, AppDeps{Orchestrator: orch, Runs: runs})

			resp := doJSON(t, http.MethodPost, srv.URL+"/v1/runs/r1/resume", "secret", map[string]any{
				"selected": map[string]string{"id": "t1", "title": "X"},
			})
			if resp.StatusCode != tc.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.wantStatus)
			}
		})
	}
}

func TestResumeSuccess(t *testing.T) {
	orch := &mockOrchestrator{resumeFn: func(_ context.Context, runID string, input run.ResumeInput) (*run.ResumeResult, error) {
		if runID != "r1" || input.Selected == nil || input.Selected.ID != "t1" {
			t.Errorf("resume called with %q %+v", runID, input)
		}
		return &run.ResumeResult{}, nil
	}}
	srv := testServer(t, AppDeps{Orchestrator: orch, Runs: &mockRunStore{}})

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/runs/r1/resume", "secret", map[string]any{
		"selected": map[string]string{"id": "t1", "title": "X"},
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var res run.ResumeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
}

func TestGetRun(t *testing.T) {
	runs := &mockRunStore{getFn: func(id string) (storage.Run, error) {
		if id != "r1" {
			return storage.Run{}, storage.ErrNotFound
		}
		return storage.Run{ID: "r1", Kind: "theme", Status: "suspended", SuspendReason: "select_candidate", StartedAt: time.Now()}, nil
	}}
	srv := testServer(t, AppDeps{Runs: runs})

	resp := doJSON(t, http.MethodGet, srv.URL+"/v1/runs/r1", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body runResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "suspended" || body.SuspendReason != "select_candidate" {
		t.Errorf("body = %+v", body)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/runs/missing", "secret", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestLibraryIngestAndSearch(t *testing.T) {
	lib := &mockLibrary{
		textFn: func(_ context.Context, title, text string) (library.Document, error) {
			return library.Document{ID: "d1", Title: title, Source: "text", Chunks: 1}, nil
		},
		searchFn: func(_ context.Context, query string, topK int) ([]library.Hit, error) {
			return []library.Hit{{DocumentID: "d1", Content: "chunk", Score: 0.9}}, nil
		},
	}
	srv := testServer(t, AppDeps{Library: lib, Runs: &mockRunStore{}})

	resp := doJSON(t, http.MethodPost, srv.URL+"/v1/library/ingest", "secret", map[string]string{
		"type": "text", "title": "Notes", "content": "hello",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Errorf("ingest status = %d, want 201", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/library/search?q=hello", "secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("search status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Hits []library.Hit `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Hits) != 1 || out.Hits[0].DocumentID != "d1" {
		t.Errorf("hits = %+v", out.Hits)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/v1/library/search", "secret", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing q status = %d, want 400", resp.StatusCode)
	}
}
