package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"gleaner/internal/api"
	"gleaner/internal/intake"
	"gleaner/internal/logging"
	"gleaner/internal/queue"
	"gleaner/internal/services"
	"gleaner/internal/status"
	"gleaner/internal/testsupport"
	"gleaner/internal/tracker"
	"gleaner/internal/workflow"
)

type stubEnricher struct {
	mu      sync.Mutex
	calls   []workflow.Options
	outcome workflow.Outcome
	err     error
}

func (s *stubEnricher) EnrichItem(_ context.Context, itemID int64, opts workflow.Options) (workflow.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, opts)
	out := s.outcome
	out.ItemID = itemID
	return out, s.err
}

func (s *stubEnricher) last(t *testing.T) workflow.Options {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		t.Fatal("enricher was not called")
	}
	return s.calls[len(s.calls)-1]
}

type stubBatch struct {
	opts   workflow.BatchOptions
	report workflow.BatchReport
}

func (s *stubBatch) Run(_ context.Context, opts workflow.BatchOptions) (workflow.BatchReport, error) {
	s.opts = opts
	return s.report, nil
}

type fixture struct {
	store    *queue.Store
	enricher *stubEnricher
	batch    *stubBatch
	engine   *gin.Engine
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	f := &fixture{
		store:    store,
		enricher: &stubEnricher{outcome: workflow.Outcome{Status: status.PendingReview, Result: workflow.ResultCompleted}},
		batch:    &stubBatch{},
	}
	handler := api.NewHandler(api.HandlerDeps{
		Queue:    api.NewQueueService(store, tracker.NewForStore(store)),
		Mutator:  store,
		Enricher: f.enricher,
		Batch:    f.batch,
		Intake:   intake.New(store, logger),
		Logger:   logger,
	})
	f.engine = api.NewServer(handler, token, logger)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, values := range header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestEnrichRoutePassesRoutingOptions(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/items/7/enrich", map[string]any{
		"return_status":  "to_tag",
		"skip_thumbnail": true,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	out := decode[api.Outcome](t, rec)
	if out.ItemID != 7 || out.Result != string(workflow.ResultCompleted) {
		t.Fatalf("unexpected outcome %+v", out)
	}

	opts := f.enricher.last(t)
	if opts.Trigger != tracker.TriggerManual || opts.Actor != queue.ActorAPI {
		t.Fatalf("trigger/actor = %s/%s", opts.Trigger, opts.Actor)
	}
	if opts.Resume.ReturnStatus != status.ToTag || !opts.SkipThumbnail {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.Resume.SingleStep || opts.Resume.StartAt != status.StepNone {
		t.Fatalf("full enrichment should not pin a step: %+v", opts.Resume)
	}
}

func TestEnrichRouteAcceptsEmptyBody(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/items/3/enrich", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if opts := f.enricher.last(t); opts.Resume.ReturnStatus != "" {
		t.Fatalf("expected default return status, got %s", opts.Resume.ReturnStatus)
	}
}

func TestStepRouteRunsSingleStep(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/items/5/steps/summarize", map[string]any{"return_status": "pending_review"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	opts := f.enricher.last(t)
	if !opts.Resume.SingleStep || opts.Resume.StartAt != status.StepSummarize {
		t.Fatalf("unexpected resume %+v", opts.Resume)
	}
	if opts.Trigger != tracker.TriggerSingleStep {
		t.Fatalf("trigger = %s", opts.Trigger)
	}
	if opts.Resume.ReturnStatus != status.PendingReview {
		t.Fatalf("return status = %s", opts.Resume.ReturnStatus)
	}
}

func TestErrorEnvelope(t *testing.T) {
	cases := []struct {
		name   string
		path   string
		body   any
		err    error
		status int
	}{
		{name: "invalid id", path: "/api/items/abc/enrich", status: http.StatusBadRequest},
		{name: "unknown step", path: "/api/items/1/steps/publish", status: http.StatusBadRequest},
		{name: "unknown return status", path: "/api/items/1/enrich", body: map[string]any{"return_status": "done"}, status: http.StatusBadRequest},
		{name: "invalid return status", path: "/api/items/1/enrich", err: fmt.Errorf("%w: failed", workflow.ErrInvalidReturnStatus), status: http.StatusBadRequest},
		{name: "missing item", path: "/api/items/1/enrich", err: fmt.Errorf("item 1: %w", queue.ErrNotFound), status: http.StatusNotFound},
		{name: "leased", path: "/api/items/1/enrich", err: fmt.Errorf("item 1: %w", queue.ErrLeaseHeld), status: http.StatusConflict},
		{name: "not resumable", path: "/api/items/1/enrich", err: workflow.ErrNotResumable, status: http.StatusConflict},
		{name: "fatal step", path: "/api/items/1/enrich", err: services.Wrap(services.ErrFatal, "fetch", "parse", "corrupt", nil), status: http.StatusUnprocessableEntity},
		{name: "store failure", path: "/api/items/1/enrich", err: errors.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, "")
			f.enricher.err = tc.err
			rec := f.do(t, http.MethodPost, tc.path, tc.body, nil)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.status, rec.Body.String())
			}
			envelope := decode[api.ErrorResponse](t, rec)
			if envelope.Error == "" {
				t.Fatalf("missing error message in %s", rec.Body.String())
			}
		})
	}
}

func TestErrorEnvelopeCarriesOutcome(t *testing.T) {
	f := newFixture(t, "")
	f.enricher.outcome = workflow.Outcome{Status: status.Rejected, Result: workflow.ResultRejected, Reason: "corrupt"}
	f.enricher.err = services.Wrap(services.ErrFatal, "fetch", "parse", "corrupt", nil)

	rec := f.do(t, http.MethodPost, "/api/items/9/enrich", nil, nil)
	envelope := decode[api.ErrorResponse](t, rec)
	if envelope.Outcome == nil || envelope.Outcome.Status != string(status.Rejected) {
		t.Fatalf("expected rejected outcome, got %+v", envelope)
	}
}

func TestBearerAuth(t *testing.T) {
	f := newFixture(t, "s3cret")

	if rec := f.do(t, http.MethodGet, "/api/status", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status = %d", rec.Code)
	}
	wrong := http.Header{"Authorization": {"Bearer nope"}}
	if rec := f.do(t, http.MethodGet, "/api/status", nil, wrong); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}
	right := http.Header{"Authorization": {"Bearer s3cret"}}
	if rec := f.do(t, http.MethodGet, "/api/status", nil, right); rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/health", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("health should stay open: status = %d", rec.Code)
	}
}

func TestListAndDetail(t *testing.T) {
	f := newFixture(t, "")
	first := testsupport.Enqueue(t, f.store, "https://example.com/a")
	second := testsupport.Enqueue(t, f.store, "https://example.com/b")
	testsupport.MoveTo(t, f.store, second.ID, status.ToTag)

	rec := f.do(t, http.MethodGet, "/api/items?status=pending", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[api.QueueListResponse](t, rec)
	if len(list.Items) != 1 || list.Items[0].ID != first.ID {
		t.Fatalf("unexpected pending list %+v", list.Items)
	}

	rec = f.do(t, http.MethodGet, "/api/items?status=ready", nil, nil)
	list = decode[api.QueueListResponse](t, rec)
	if len(list.Items) != 1 || list.Items[0].Status != string(status.ToTag) {
		t.Fatalf("unexpected ready list %+v", list.Items)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/api/items/%d", second.ID), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail status = %d", rec.Code)
	}
	detail := decode[api.ItemDetail](t, rec)
	if detail.Item.ID != second.ID || detail.Item.Phase != "ready" {
		t.Fatalf("unexpected detail item %+v", detail.Item)
	}
	if len(detail.History) < 2 || detail.History[len(detail.History)-1].To != string(status.ToTag) {
		t.Fatalf("unexpected history %+v", detail.History)
	}
	if detail.Runs == nil {
		t.Fatal("runs should be an empty list, not null")
	}

	if rec := f.do(t, http.MethodGet, "/api/items/999", nil, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing item: status = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/items?status=bogus", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter: status = %d", rec.Code)
	}
}

func TestAddItemRejectsDuplicates(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/items", map[string]any{"url": "https://Example.com/post?utm_source=x"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[api.QueueItemResponse](t, rec)
	if created.Item.EntryType != string(queue.EntryManual) || created.Item.Status != string(status.Pending) {
		t.Fatalf("unexpected item %+v", created.Item)
	}

	rec = f.do(t, http.MethodPost, "/api/items", map[string]any{"url": "https://example.com/post"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodPost, "/api/items", map[string]any{}, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing url: status = %d", rec.Code)
	}
}

func TestRetryRoute(t *testing.T) {
	f := newFixture(t, "")
	item := testsupport.Enqueue(t, f.store, "https://example.com/retry")
	testsupport.MoveTo(t, f.store, item.ID, status.Failed)

	rec := f.do(t, http.MethodPost, fmt.Sprintf("/api/items/%d/retry", item.ID), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decode[api.RetryItemsResult](t, rec)
	if result.UpdatedCount != 1 || result.Items[0].NewStatus != string(status.Pending) {
		t.Fatalf("unexpected result %+v", result)
	}

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/api/items/%d/retry", item.ID), nil, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second retry: status = %d", rec.Code)
	}
}

func TestBatchRoute(t *testing.T) {
	f := newFixture(t, "")
	f.batch.report = workflow.BatchReport{
		Selected:  2,
		Completed: 1,
		Retried:   1,
		Items: []workflow.ItemResult{
			{Outcome: workflow.Outcome{ItemID: 1, Status: status.PendingReview, Result: workflow.ResultCompleted}},
			{Outcome: workflow.Outcome{ItemID: 2, Status: status.ToTag, Result: workflow.ResultRetry}},
		},
	}

	rec := f.do(t, http.MethodPost, "/api/batch?limit=2", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if f.batch.opts.Limit != 2 || f.batch.opts.Actor != queue.ActorAPI {
		t.Fatalf("unexpected batch options %+v", f.batch.opts)
	}
	report := decode[api.BatchReport](t, rec)
	if report.Completed != 1 || report.Retried != 1 || len(report.Items) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}

	if rec := f.do(t, http.MethodPost, "/api/batch?limit=-1", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit: status = %d", rec.Code)
	}
}

func TestStatusWithoutDaemonReportsCounts(t *testing.T) {
	f := newFixture(t, "")
	testsupport.Enqueue(t, f.store, "https://example.com/one")

	rec := f.do(t, http.MethodGet, "/api/status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	wf := decode[api.WorkflowStatus](t, rec)
	if wf.Running {
		t.Fatal("no daemon loop is attached")
	}
	if wf.QueueStats["pending"] != 1 || wf.QueueStats["failed"] != 0 {
		t.Fatalf("unexpected stats %+v", wf.QueueStats)
	}
}
