// Package thumbnail renders a preview image of an item's page through an
// external render service and stores it by content hash.
package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"gleaner/internal/config"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/rawstore"
	"gleaner/internal/services"
	"gleaner/internal/stage"
)

const (
	stageName     = "thumbnail"
	maxImageBytes = 10 << 20
)

// ErrInvalidScheme marks an item URL the render service must never load.
var ErrInvalidScheme = errors.New("invalid URL scheme")

// Renderer implements the thumbnail step.
type Renderer struct {
	enabled   bool
	renderURL string
	timeout   time.Duration
	schemes   []string
	store     *rawstore.Store
	client    *http.Client
	logger    *slog.Logger
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithHTTPClient overrides the HTTP client used to reach the render service.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Renderer) {
		if client != nil {
			r.client = client
		}
	}
}

// New constructs the thumbnail step. Images are written to store.
func New(cfg *config.Config, store *rawstore.Store, logger *slog.Logger, opts ...Option) *Renderer {
	schemes := make([]string, 0, len(cfg.Thumbnail.AllowedSchemes))
	for _, s := range cfg.Thumbnail.AllowedSchemes {
		schemes = append(schemes, strings.ToLower(strings.TrimSpace(s)))
	}
	r := &Renderer{
		enabled:   cfg.Thumbnail.Enabled && strings.TrimSpace(cfg.Thumbnail.RenderURL) != "",
		renderURL: strings.TrimSpace(cfg.Thumbnail.RenderURL),
		timeout:   time.Duration(cfg.Thumbnail.TimeoutSeconds) * time.Second,
		schemes:   schemes,
		store:     store,
		client:    &http.Client{},
		logger:    logging.NewComponentLogger(logger, stageName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enabled reports whether a render service is configured.
func (r *Renderer) Enabled() bool {
	return r.enabled
}

// Run renders and stores the thumbnail. A URL outside the scheme allowlist
// is a fatal error; service failures are transient.
func (r *Renderer) Run(ctx context.Context, in stage.Input) (stage.Result, error) {
	logger := logging.WithContext(ctx, r.logger)
	if err := r.checkScheme(in.Item.URL); err != nil {
		return stage.Result{}, err
	}
	if !r.enabled {
		logger.Debug("thumbnail rendering disabled; skipping")
		return stage.Result{Record: map[string]any{"skipped": "disabled"}}, nil
	}

	data, contentType, err := r.render(ctx, in.Item.URL)
	if err != nil {
		return stage.Result{}, err
	}
	obj, err := r.store.Put(data, extensionFor(contentType))
	if err != nil {
		return stage.Result{}, services.Wrap(services.ErrExternalTool, stageName, "store image", "write failed", err)
	}
	thumb := queue.Thumbnail{
		Path:        obj.Path,
		ContentHash: obj.Hash,
		ContentType: contentType,
		Bytes:       obj.Size,
	}
	logger.Info("thumbnail stored",
		logging.String("content_hash", obj.Hash),
		logging.Int64("bytes", obj.Size),
	)
	return stage.Result{
		Patch:  map[string]any{"thumbnail": thumb},
		Record: thumb,
	}, nil
}

// HealthCheck reports the render service configuration.
func (r *Renderer) HealthCheck(context.Context) stage.Health {
	if !r.enabled {
		return stage.Disabled(stageName)
	}
	if r.store == nil {
		return stage.Unhealthy(stageName, "thumbnail store not configured")
	}
	return stage.Healthy(stageName)
}

func (r *Renderer) checkScheme(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return services.Wrap(services.ErrFatal, stageName, "check url", raw, errors.Join(ErrInvalidScheme, err))
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme == "" || !slices.Contains(r.schemes, scheme) {
		return services.Wrap(services.ErrFatal, stageName, "check url",
			fmt.Sprintf("scheme %q not allowed", parsed.Scheme), ErrInvalidScheme)
	}
	return nil
}

func (r *Renderer) render(ctx context.Context, target string) ([]byte, string, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	endpoint, err := url.Parse(r.renderURL)
	if err != nil {
		return nil, "", services.Wrap(services.ErrConfiguration, stageName, "render", "invalid render_url", err)
	}
	query := endpoint.Query()
	query.Set("url", target)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, "", services.Wrap(services.ErrConfiguration, stageName, "render", "build request", err)
	}
	req.Header.Set("Accept", "image/png,image/jpeg,image/webp")
	resp, err := r.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, "", services.Wrap(services.ErrTimeout, stageName, "render", endpoint.Host, err)
		}
		return nil, "", services.Wrap(services.ErrExternalTool, stageName, "render", endpoint.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", services.Wrap(services.ErrExternalTool, stageName, "render",
			fmt.Sprintf("render service returned %s", resp.Status), nil)
	}
	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, "", services.Wrap(services.ErrExternalTool, stageName, "render",
			fmt.Sprintf("unexpected content type %q", contentType), nil)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		if isTimeout(err) {
			return nil, "", services.Wrap(services.ErrTimeout, stageName, "read image", endpoint.Host, err)
		}
		return nil, "", services.Wrap(services.ErrExternalTool, stageName, "read image", endpoint.Host, err)
	}
	if len(data) == 0 || len(data) > maxImageBytes {
		return nil, "", services.Wrap(services.ErrExternalTool, stageName, "read image",
			fmt.Sprintf("image size %d out of range", len(data)), nil)
	}
	return data, mediaType, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func extensionFor(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}
