package thumbnail_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/rawstore"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/steps/thumbnail"
	"gleaner/internal/testsupport"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-bytes")

func newRenderer(t *testing.T, renderURL string, opts ...thumbnail.Option) (*thumbnail.Renderer, *rawstore.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithRenderURL(renderURL))
	store, err := rawstore.New(cfg.Paths.ThumbnailDir)
	if err != nil {
		t.Fatalf("rawstore.New: %v", err)
	}
	return thumbnail.New(cfg, store, logging.NewNop(), opts...), store
}

func TestRenderStoresImage(t *testing.T) {
	var gotTarget string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTarget = r.URL.Query().Get("url")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	r, store := newRenderer(t, srv.URL+"/render")
	res, err := r.Run(context.Background(), stage.Input{Item: queue.Item{URL: "https://example.com/a?b=c"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotTarget != "https://example.com/a?b=c" {
		t.Fatalf("render target = %q", gotTarget)
	}
	thumb, ok := res.Patch["thumbnail"].(queue.Thumbnail)
	if !ok {
		t.Fatalf("thumbnail patch has type %T", res.Patch["thumbnail"])
	}
	if thumb.ContentType != "image/png" || thumb.Bytes != int64(len(pngBytes)) {
		t.Fatalf("thumbnail = %+v", thumb)
	}
	data, err := store.Read(thumb.Path, thumb.ContentHash)
	if err != nil || string(data) != string(pngBytes) {
		t.Fatalf("stored image mismatch: %v", err)
	}
}

func TestDisallowedSchemeIsFatal(t *testing.T) {
	r, _ := newRenderer(t, "http://127.0.0.1:1/render")
	for _, raw := range []string{"ftp://example.com/file", "javascript:alert(1)", "file:///etc/passwd"} {
		_, err := r.Run(context.Background(), stage.Input{Item: queue.Item{URL: raw}})
		if !errors.Is(err, services.ErrFatal) || !errors.Is(err, thumbnail.ErrInvalidScheme) {
			t.Fatalf("%s: expected fatal invalid scheme, got %v", raw, err)
		}
		if services.Classify(err) != services.ClassFatal {
			t.Fatalf("%s: class = %s", raw, services.Classify(err))
		}
	}
}

func TestRenderFailuresAreTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/slow":
			time.Sleep(500 * time.Millisecond)
		case "/html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	for _, path := range []string{"/slow", "/html", "/down"} {
		r, _ := newRenderer(t, srv.URL+path, thumbnail.WithHTTPClient(client))
		_, err := r.Run(context.Background(), stage.Input{Item: queue.Item{URL: "https://example.com"}})
		if err == nil {
			t.Fatalf("%s: expected error", path)
		}
		if services.Classify(err) != services.ClassTransient {
			t.Fatalf("%s: class = %s (%v)", path, services.Classify(err), err)
		}
	}
}

func TestDisabledRendererSkips(t *testing.T) {
	r, _ := newRenderer(t, "")
	if r.Enabled() {
		t.Fatal("renderer without render_url should be disabled")
	}
	res, err := r.Run(context.Background(), stage.Input{Item: queue.Item{URL: "https://example.com"}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Patch != nil {
		t.Fatalf("disabled renderer patched payload: %+v", res.Patch)
	}
	if h := r.HealthCheck(context.Background()); !h.Ready || h.Detail != "disabled" {
		t.Fatalf("health = %+v", h)
	}
}
