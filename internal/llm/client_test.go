package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func chatServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Generate(t *testing.T) {
	var gotBody chatRequest
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Authorization = %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "test-model",
			"choices": []map[string]any{
				{"message": map[string]any{"content": `{"ok":true}`}},
			},
		})
	})

	c := NewClient(srv.URL, "test-key", "test-model")
	resp, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{JSON: true, MaxTokens: 100})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != `{"ok":true}` {
		t.Errorf("Text = %q", resp.Text)
	}
	if resp.ModelID != "test-model" {
		t.Errorf("ModelID = %q", resp.ModelID)
	}
	if gotBody.ResponseFormat == nil || gotBody.ResponseFormat.Type != "json_object" {
		t.Errorf("expected json_object response_format, got %+v", gotBody.ResponseFormat)
	}
	if gotBody.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want 100", gotBody.MaxTokens)
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "ok"}},
			},
		})
	})

	c := NewClient(srv.URL, "test-key", "test-model")
	resp, err := c.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("Text = %q, want ok", resp.Text)
	}
	if calls.Load() != 2 {
		t.Errorf("upstream called %d times, want 2", calls.Load())
	}
}

func TestClient_NonRetryableError(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	c := NewClient(srv.URL, "test-key", "test-model")
	if _, err := c.Generate(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error on 500")
	}
	if calls.Load() != 1 {
		t.Errorf("upstream called %d times, want 1 (no retry on 500)", calls.Load())
	}
}

func TestClient_MissingAPIKey(t *testing.T) {
	c := NewClient("http://unused", "", "m")
	if _, err := c.Generate(context.Background(), nil, Options{}); err == nil {
		t.Fatal("expected error when API key is missing")
	}
}

func TestClient_Embed(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2, 0.3}},
			},
		})
	})

	c := NewClient(srv.URL, "test-key", "m").WithEmbedModel("embed-model")
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 3 || vec[1] != 0.2 {
		t.Errorf("vec = %v", vec)
	}
}
