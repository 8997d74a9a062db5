package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gleaner/internal/logging"
	"gleaner/internal/services"
)

const (
	requestIDHeader = "X-Request-ID"
	shutdownTimeout = 30 * time.Second
)

// NewServer creates the gin engine with every route configured. An empty
// token disables authentication.
func NewServer(handler *Handler, token string, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	logger = logging.NewComponentLogger(logger, "api")

	r := gin.New()
	r.Use(requestLogger(logger))
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.ErrorWithContext(logging.WithContext(c.Request.Context(), logger), "api handler panicked", "api_panic",
			logging.String("panic", fmt.Sprint(recovered)),
			logging.String("path", c.FullPath()),
			logging.Alert("api_panic"),
		)
		abortWithError(c, http.StatusInternalServerError, errors.New("internal server error"))
	}))

	r.GET("/health", handler.Health)

	api := r.Group("/api")
	if strings.TrimSpace(token) != "" {
		api.Use(bearerAuth(token))
	}
	{
		api.GET("/status", handler.Status)
		api.GET("/items", handler.ListItems)
		api.POST("/items", handler.AddItem)
		api.GET("/items/:id", handler.GetItem)
		api.POST("/items/:id/enrich", handler.EnrichItem)
		api.POST("/items/:id/steps/:step", handler.RunStep)
		api.POST("/items/:id/retry", handler.RetryItem)
		api.POST("/batch", handler.RunBatch)
	}
	return r
}

// requestLogger stamps a request id on the context and logs one line per
// request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(services.WithRequestID(c.Request.Context(), requestID))
		c.Header(requestIDHeader, requestID)

		c.Next()

		level := slog.LevelDebug
		if c.Request.Method != http.MethodGet {
			level = slog.LevelInfo
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		logging.WithContext(c.Request.Context(), logger).Log(c.Request.Context(), level, "api request",
			logging.Args(
				logging.Event("api_request"),
				logging.String("method", c.Request.Method),
				logging.String("path", c.Request.URL.Path),
				logging.Int("status", c.Writer.Status()),
				logging.Duration("latency", time.Since(start)),
				logging.String("client_ip", c.ClientIP()),
			)...,
		)
	}
}

func bearerAuth(token string) gin.HandlerFunc {
	want := []byte(strings.TrimSpace(token))
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="gleaner"`)
			abortWithError(c, http.StatusUnauthorized, errors.New("unauthorized"))
			return
		}
		c.Next()
	}
}

// HTTPServer runs the engine until its context is cancelled.
type HTTPServer struct {
	server *http.Server
	logger *slog.Logger
}

// NewHTTPServer wraps handler in an http.Server bound to addr.
func NewHTTPServer(addr string, handler http.Handler, logger *slog.Logger) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "api"),
	}
}

// Run serves until ctx is done, then shuts down gracefully. Enrichment
// requests can run for minutes, so no write timeout is set.
func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening",
			logging.Event("api_listen"),
			logging.String("addr", s.server.Addr),
		)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	s.logger.Info("api server stopped", logging.Event("api_stop"))
	return <-errCh
}
