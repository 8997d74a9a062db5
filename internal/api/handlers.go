package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"gleaner/internal/intake"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/services"
	"gleaner/internal/status"
	"gleaner/internal/tracker"
	"gleaner/internal/workflow"
)

const maxListLimit = 500

// Enricher runs one item through the pipeline.
type Enricher interface {
	EnrichItem(ctx context.Context, itemID int64, opts workflow.Options) (workflow.Outcome, error)
}

// BatchRunner performs one batch pass.
type BatchRunner interface {
	Run(ctx context.Context, opts workflow.BatchOptions) (workflow.BatchReport, error)
}

// StatusSource reports daemon workflow state.
type StatusSource interface {
	Status(ctx context.Context) workflow.StatusSummary
}

// ItemAdder enqueues a submitted URL.
type ItemAdder interface {
	Add(ctx context.Context, c intake.Candidate) (*queue.Item, error)
}

// HandlerDeps lists the collaborators behind the HTTP routes. Workflow may
// be nil when no daemon loop is running.
type HandlerDeps struct {
	Queue    *QueueService
	Mutator  QueueMutator
	Enricher Enricher
	Batch    BatchRunner
	Workflow StatusSource
	Intake   ItemAdder
	Logger   *slog.Logger
}

// Handler serves the HTTP trigger surface.
type Handler struct {
	queue    *QueueService
	mutator  QueueMutator
	enricher Enricher
	batch    BatchRunner
	workflow StatusSource
	intake   ItemAdder
	logger   *slog.Logger
}

// NewHandler creates a handler over deps.
func NewHandler(deps HandlerDeps) *Handler {
	return &Handler{
		queue:    deps.Queue,
		mutator:  deps.Mutator,
		enricher: deps.Enricher,
		batch:    deps.Batch,
		workflow: deps.Workflow,
		intake:   deps.Intake,
		logger:   logging.NewComponentLogger(deps.Logger, "api"),
	}
}

// requestError marks caller mistakes that map to 400.
type requestError struct{ msg string }

func (e requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return requestError{msg: fmt.Sprintf(format, args...)}
}

// Health reports liveness without touching the store.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status returns queue counts, and daemon state when a loop is running.
func (h *Handler) Status(c *gin.Context) {
	ctx := c.Request.Context()
	if h.workflow != nil {
		c.JSON(http.StatusOK, FromStatusSummary(h.workflow.Status(ctx)))
		return
	}
	stats, err := h.queue.Stats(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, WorkflowStatus{QueueStats: stats, StageHealth: []StageHealth{}})
}

// ListItems returns items filtered by ?status=, ?entry_type=, ?q=, ?limit= and ?offset=.
func (h *Handler) ListItems(c *gin.Context) {
	statuses, err := ParseStatusFilter(c.QueryArray("status"))
	if err != nil {
		h.fail(c, badRequest("%v", err))
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		h.fail(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		h.fail(c, err)
		return
	}
	filter := queue.ListFilter{
		Statuses:  statuses,
		EntryType: queue.EntryType(strings.TrimSpace(c.Query("entry_type"))),
		Search:    c.Query("q"),
		Limit:     min(limit, maxListLimit),
		Offset:    offset,
	}
	items, err := h.queue.List(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, QueueListResponse{Items: items})
}

// GetItem returns an item with its runs and status history.
func (h *Handler) GetItem(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	detail, err := h.queue.Detail(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// AddItem enqueues a manually submitted URL.
func (h *Handler) AddItem(c *gin.Context) {
	if h.intake == nil {
		h.fail(c, errors.New("intake is not configured"))
		return
	}
	var req AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, badRequest("invalid request body: %v", err))
		return
	}
	item, err := h.intake.Add(c.Request.Context(), intake.Candidate{
		URL:       req.URL,
		EntryType: queue.EntryManual,
		Payload:   queue.Payload{Title: req.Title, Description: req.Description},
		Actor:     queue.ActorAPI,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, QueueItemResponse{Item: FromQueueItem(item)})
}

// EnrichItem runs the full pipeline for one item.
func (h *Handler) EnrichItem(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	req, err := bindEnrichRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	resume, err := resumeFromRequest(req)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.enrich(c, id, workflow.Options{
		Trigger:       tracker.TriggerManual,
		Actor:         queue.ActorAPI,
		Resume:        resume,
		SkipThumbnail: req.SkipThumbnail,
	})
}

// RunStep runs exactly one named step for an item.
func (h *Handler) RunStep(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	step, err := status.ParseStep(c.Param("step"))
	if err != nil {
		h.fail(c, badRequest("%v", err))
		return
	}
	req, err := bindEnrichRequest(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	req.StartAt = ""
	resume, err := resumeFromRequest(req)
	if err != nil {
		h.fail(c, err)
		return
	}
	resume.StartAt = step
	resume.SingleStep = true
	h.enrich(c, id, workflow.Options{
		Trigger:       tracker.TriggerSingleStep,
		Actor:         queue.ActorAPI,
		Resume:        resume,
		SkipThumbnail: req.SkipThumbnail,
	})
}

func (h *Handler) enrich(c *gin.Context, id int64, opts workflow.Options) {
	if h.enricher == nil {
		h.fail(c, errors.New("enrichment is not configured"))
		return
	}
	outcome, err := h.enricher.EnrichItem(c.Request.Context(), id, opts)
	dto := FromOutcome(outcome, err)
	if err != nil {
		h.failWithOutcome(c, err, &dto)
		return
	}
	c.JSON(http.StatusOK, dto)
}

// RetryItem moves a failed item back to pending.
func (h *Handler) RetryItem(c *gin.Context) {
	id, err := itemID(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.mutator == nil {
		h.fail(c, errors.New("queue mutations are not configured"))
		return
	}
	result, err := RetryFailedItemsByID(c.Request.Context(), h.mutator, queue.ActorAPI, []int64{id})
	if err != nil {
		h.fail(c, err)
		return
	}
	switch result.Items[0].Outcome {
	case RetryItemNotFound:
		h.fail(c, fmt.Errorf("item %d: %w", id, queue.ErrNotFound))
	case RetryItemNotFailed:
		abortWithError(c, http.StatusConflict, fmt.Errorf("item %d is not failed", id))
	default:
		c.JSON(http.StatusOK, result)
	}
}

// RunBatch performs one batch pass over ready items.
func (h *Handler) RunBatch(c *gin.Context) {
	if h.batch == nil {
		h.fail(c, errors.New("batch runner is not configured"))
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		h.fail(c, err)
		return
	}
	skip, err := queryBool(c, "skip_thumbnail")
	if err != nil {
		h.fail(c, err)
		return
	}
	report, err := h.batch.Run(c.Request.Context(), workflow.BatchOptions{
		Limit:         limit,
		Actor:         queue.ActorAPI,
		SkipThumbnail: skip,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, FromBatchReport(report))
}

func bindEnrichRequest(c *gin.Context) (EnrichRequest, error) {
	var req EnrichRequest
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return req, nil
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, badRequest("invalid request body: %v", err)
	}
	return req, nil
}

func resumeFromRequest(req EnrichRequest) (workflow.ResumeContext, error) {
	resume := workflow.ResumeContext{ManualOverride: req.ManualOverride}
	if value := strings.TrimSpace(req.StartAt); value != "" {
		step, err := status.ParseStep(value)
		if err != nil {
			return resume, badRequest("%v", err)
		}
		resume.StartAt = step
	}
	if value := strings.TrimSpace(req.ReturnStatus); value != "" {
		s, ok := status.Parse(value)
		if !ok {
			return resume, fmt.Errorf("%w: unknown status %q", workflow.ErrInvalidReturnStatus, value)
		}
		resume.ReturnStatus = s
	}
	return resume, nil
}

func itemID(c *gin.Context) (int64, error) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid item id %q", raw)
	}
	return id, nil
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, badRequest("invalid %s %q", key, raw)
	}
	return value, nil
}

func queryBool(c *gin.Context, key string) (bool, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badRequest("invalid %s %q", key, raw)
	}
	return value, nil
}

func (h *Handler) fail(c *gin.Context, err error) {
	h.failWithOutcome(c, err, nil)
}

func (h *Handler) failWithOutcome(c *gin.Context, err error, outcome *Outcome) {
	code := errorStatus(err)
	if code >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(c.Request.Context(), h.logger), "api request failed", "api_error",
			logging.Error(err),
			logging.String("path", c.FullPath()),
		)
	}
	c.AbortWithStatusJSON(code, ErrorResponse{Error: err.Error(), Outcome: outcome})
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, ErrorResponse{Error: err.Error()})
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, workflow.ErrInvalidReturnStatus),
		errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, queue.ErrLeaseHeld),
		errors.Is(err, workflow.ErrNotResumable),
		errors.Is(err, queue.ErrStatusConflict),
		errors.Is(err, queue.ErrIllegalTransition),
		errors.Is(err, queue.ErrDuplicateURL),
		errors.Is(err, queue.ErrAlreadyPublished):
		return http.StatusConflict
	case errors.Is(err, services.ErrFatal):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
