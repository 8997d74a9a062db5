package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/rawstore"
	"gleaner/internal/services"
	"gleaner/internal/stage"
	"gleaner/internal/textutil"
)

const stageName = "fetch"

// Fetcher implements the fetch step.
type Fetcher struct {
	raw       *rawstore.Store
	client    *http.Client
	timeout   time.Duration
	maxBytes  int64
	userAgent string
	logger    *slog.Logger
	now       func() time.Time
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client used for retrieval.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithClock overrides the time source stamped on fetched_at.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// New constructs the fetch step.
func New(cfg *config.Config, raw *rawstore.Store, logger *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		raw:       raw,
		client:    &http.Client{},
		timeout:   time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		maxBytes:  cfg.Fetch.MaxBytes,
		userAgent: cfg.Fetch.UserAgent,
		logger:    logging.NewComponentLogger(logger, stageName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run fetches or reuses the item's raw content and returns extracted metadata.
func (f *Fetcher) Run(ctx context.Context, in stage.Input) (stage.Result, error) {
	logger := logging.WithContext(ctx, f.logger)
	item := in.Item

	if item.HasReusableContent() {
		data, err := f.raw.Read(item.StoragePath, item.ContentHash)
		if err == nil {
			logger.Info("reusing stored raw content",
				logging.String("content_hash", item.ContentHash),
				logging.Int("bytes", len(data)),
			)
			doc := ParseContent(data, contentTypeFor(item.StoragePath), item.URL)
			fields := queue.FieldChanges{FetchStatus: queue.Ptr(queue.FetchReused)}
			return stage.Result{
				Patch:  doc.Patch(),
				Fields: fields,
				Record: record(queue.FetchReused, item.ContentHash, len(data)),
			}, nil
		}
		logging.WarnWithContext(logger, "stored raw content unreadable; fetching again", "raw_reuse_failed",
			logging.String("storage_path", item.StoragePath),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item is refetched from the network"),
		)
	}

	pageURL, err := validateURL(item.URL)
	if err != nil {
		return stage.Result{}, err
	}

	body, contentType, oversized, err := f.download(ctx, pageURL)
	if err != nil {
		return stage.Result{}, err
	}

	fetchedAt := f.now().UTC()
	doc := ParseContent(body, contentType, item.URL)
	if oversized {
		logging.WarnWithContext(logger, "document exceeds size cap; raw copy not kept", "fetch_oversized",
			logging.Int64("max_bytes", f.maxBytes),
			logging.String(logging.FieldImpact, "re-enrichment will fetch the document again"),
		)
		return stage.Result{
			Patch: doc.Patch(),
			Fields: queue.FieldChanges{
				FetchStatus: queue.Ptr(queue.FetchOversized),
				ContentHash: queue.Ptr(""),
				StoragePath: queue.Ptr(""),
				RawDeleted:  queue.Ptr(false),
				FetchedAt:   &fetchedAt,
			},
			Record: record(queue.FetchOversized, "", len(body)),
		}, nil
	}

	obj, err := f.raw.Put(body, extensionFor(contentType))
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, stageName, "store raw content", "write failed", err)
	}
	logger.Info("fetched document",
		logging.String("content_hash", obj.Hash),
		logging.Int64("bytes", obj.Size),
		logging.String("content_type", contentType),
	)
	return stage.Result{
		Patch: doc.Patch(),
		Fields: queue.FieldChanges{
			FetchStatus: queue.Ptr(queue.FetchOK),
			ContentHash: queue.Ptr(obj.Hash),
			StoragePath: queue.Ptr(obj.Path),
			RawDeleted:  queue.Ptr(false),
			FetchedAt:   &fetchedAt,
		},
		Record: record(queue.FetchOK, obj.Hash, int(obj.Size)),
	}, nil
}

// HealthCheck verifies the raw store is configured.
func (f *Fetcher) HealthCheck(context.Context) stage.Health {
	if f.raw == nil {
		return stage.Unhealthy(stageName, "raw store not configured")
	}
	if f.maxBytes <= 0 {
		return stage.Unhealthy(stageName, "fetch.max_bytes must be positive")
	}
	return stage.Healthy(stageName)
}

func (f *Fetcher) download(ctx context.Context, pageURL *url.URL) ([]byte, string, bool, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, "", false, services.Wrap(services.ErrValidation, stageName, "build request", pageURL.String(), err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, "", false, services.Wrap(services.ErrTimeout, stageName, "get", pageURL.Host, err)
		}
		return nil, "", false, services.Wrap(services.ErrExternalTool, stageName, "get", pageURL.Host, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, "", false, services.Wrap(services.ErrExternalTool, stageName, "get",
			fmt.Sprintf("document unavailable: %s", resp.Status), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, "", false, services.Wrap(services.ErrExternalTool, stageName, "get",
			fmt.Sprintf("unexpected status: %s", resp.Status), nil)
	}

	limit := f.maxBytes
	if limit <= 0 {
		limit = config.Default().Fetch.MaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		if isTimeout(err) {
			return nil, "", false, services.Wrap(services.ErrTimeout, stageName, "read body", pageURL.Host, err)
		}
		return nil, "", false, services.Wrap(services.ErrExternalTool, stageName, "read body", pageURL.Host, err)
	}
	oversized := int64(len(body)) > limit
	if oversized {
		body = body[:limit]
	}
	return body, resp.Header.Get("Content-Type"), oversized, nil
}

func validateURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "parse url", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, services.Wrap(services.ErrValidation, stageName, "parse url",
			fmt.Sprintf("unsupported scheme %q", parsed.Scheme), nil)
	}
	if parsed.Host == "" {
		return nil, services.Wrap(services.ErrValidation, stageName, "parse url", "missing host", nil)
	}
	return parsed, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "html"):
		return ".html"
	case strings.Contains(ct, "xml"):
		return ".xml"
	case strings.Contains(ct, "json"):
		return ".json"
	case strings.HasPrefix(ct, "text/"):
		return ".txt"
	case ct == "":
		return ".html"
	default:
		return ".bin"
	}
}

func record(fs queue.FetchStatus, hash string, size int) map[string]any {
	return map[string]any{
		"fetch_status": string(fs),
		"content_hash": hash,
		"bytes":        size,
	}
}

// contentTypeFor recovers the content type a stored copy was saved under
// from its extension.
func contentTypeFor(storagePath string) string {
	switch strings.ToLower(filepath.Ext(storagePath)) {
	case ".txt":
		return "text/plain"
	case ".xml":
		return "application/xml"
	case ".json":
		return "application/json"
	case ".bin":
		return "application/octet-stream"
	default:
		return "text/html"
	}
}

// ParseContent dispatches on content type: HTML documents go through Parse,
// other text types are kept as the readable body.
func ParseContent(data []byte, contentType, pageURL string) Document {
	if extensionFor(contentType) == ".txt" {
		return Document{Text: textutil.CleanLines(string(bytes.ToValidUTF8(data, nil)))}
	}
	return Parse(data, pageURL)
}
