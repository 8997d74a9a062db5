package daemonrun_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"gleaner/internal/api"
	"gleaner/internal/daemonrun"
	"gleaner/internal/logging"
	"gleaner/internal/status"
	"gleaner/internal/testsupport"
)

func TestBuildWiresEveryStep(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	rt, err := daemonrun.Build(context.Background(), cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close()

	for _, step := range status.Steps() {
		if rt.Steps.For(step) == nil {
			t.Fatalf("step %s has no handler", step)
		}
	}
	if rt.Orchestrator == nil || rt.Batch == nil || rt.Sweeper == nil || rt.Intake == nil {
		t.Fatal("runtime is missing workflow components")
	}

	engine := api.NewServer(rt.Handler(nil), "", logging.NewNop())
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status route = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestBuildRejectsUnknownLeaseBackend(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.LeaseBackend = "zookeeper"
	if _, err := daemonrun.Build(context.Background(), cfg, logging.NewNop()); err == nil {
		t.Fatal("expected an error for an unknown lease backend")
	}
}

func TestBuildRejectsMissingRulesFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Filter.RulesPath = cfg.Paths.DataDir + "/missing.yaml"
	if _, err := daemonrun.Build(context.Background(), cfg, logging.NewNop()); err == nil {
		t.Fatal("expected an error for a missing rules file")
	}
}
