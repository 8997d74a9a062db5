package preflight_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"gleaner/internal/preflight"
	"gleaner/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	if result := preflight.CheckDirectoryAccess("test", dir); !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}

	missing := preflight.CheckDirectoryAccess("test", filepath.Join(dir, "nope"))
	if missing.Passed || missing.Detail == "" {
		t.Fatalf("expected failure with detail for missing dir, got %+v", missing)
	}

	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if result := preflight.CheckDirectoryAccess("test", file); result.Passed {
		t.Fatal("expected failure for file path")
	}
	if result := preflight.CheckFile("rules", file); !result.Passed {
		t.Fatalf("expected readable file to pass, got %s", result.Detail)
	}
	if result := preflight.CheckFile("rules", dir); result.Passed {
		t.Fatal("expected directory to fail the file check")
	}
}

func TestCheckRenderService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	if result := preflight.CheckRenderService(context.Background(), srv.URL+"/render"); !result.Passed {
		t.Fatalf("expected reachable render service, got %s", result.Detail)
	}
	if result := preflight.CheckRenderService(context.Background(), srv.URL+"/broken"); result.Passed {
		t.Fatal("expected 5xx to fail")
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if results := preflight.RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAllWithReachableServices(t *testing.T) {
	ollama := testsupport.NewOllamaServer(t, nil, nil)
	cfg := testsupport.NewConfig(t, testsupport.WithLLMHost(ollama.URL))
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	results := preflight.RunAll(context.Background(), cfg)
	if failed := preflight.Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}
	names := make(map[string]bool)
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"Data directory", "Ollama", "Render service"} {
		if !names[want] {
			t.Fatalf("expected %q in results %+v", want, results)
		}
	}
	if names["Redis"] {
		t.Fatal("redis check should only run for the redis lease backend")
	}
}

func TestRunAllReportsMissingRulesAndDeadLLM(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLLMHost("http://127.0.0.1:1"))
	cfg.Filter.RulesPath = filepath.Join(testsupport.BaseDir(cfg), "missing.yaml")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	failed := preflight.Failed(preflight.RunAll(context.Background(), cfg))
	if len(failed) != 2 {
		t.Fatalf("expected llm and rules failures, got %+v", failed)
	}
}
