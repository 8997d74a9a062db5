package testsupport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ollama/ollama/api"
)

// OllamaServer is a stand-in for the Ollama HTTP API.
type OllamaServer struct {
	*httptest.Server

	mu       sync.Mutex
	requests []api.GenerateRequest
}

// GenerateFunc answers one generate request. Returning status >= 400 sends an
// error status whose body carries no "error" key, so the client surfaces it
// as api.StatusError.
type GenerateFunc func(req api.GenerateRequest) (response string, status int)

// EmbedFunc returns the embedding for one input.
type EmbedFunc func(input string) []float32

// NewOllamaServer starts a fake Ollama server and registers cleanup.
func NewOllamaServer(t testing.TB, generate GenerateFunc, embed EmbedFunc) *OllamaServer {
	t.Helper()

	srv := &OllamaServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req api.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		srv.mu.Lock()
		srv.requests = append(srv.requests, req)
		srv.mu.Unlock()

		response, status := "", http.StatusOK
		if generate != nil {
			response, status = generate(req)
		}
		w.Header().Set("Content-Type", "application/json")
		if status >= http.StatusBadRequest {
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": response})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":    req.Model,
			"response": response,
			"done":     true,
		})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
			Input any    `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					inputs = append(inputs, s)
				}
			}
		}
		embeddings := make([][]float32, 0, len(inputs))
		for _, input := range inputs {
			var vec []float32
			if embed != nil {
				vec = embed(input)
			}
			embeddings = append(embeddings, vec)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"model": req.Model, "embeddings": embeddings})
	})

	srv.Server = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// Requests returns the generate requests received so far.
func (s *OllamaServer) Requests() []api.GenerateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]api.GenerateRequest, len(s.requests))
	copy(out, s.requests)
	return out
}
