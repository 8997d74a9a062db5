package daemon_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gleaner/internal/api"
	"gleaner/internal/daemon"
	"gleaner/internal/daemonrun"
	"gleaner/internal/logging"
	"gleaner/internal/testsupport"
	"gleaner/internal/workflow"
)

func newDaemon(t *testing.T, withServer bool) (*daemon.Daemon, *daemonrun.Runtime) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Workflow.QueuePollInterval = 1
	logger := logging.NewNop()
	rt, err := daemonrun.Build(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { rt.Close() })

	mgr := workflow.NewManager(cfg, rt.Store, rt.Batch, rt.Steps, logger)
	var server *api.HTTPServer
	if withServer {
		server = api.NewHTTPServer(cfg.Paths.APIBind, api.NewServer(rt.Handler(mgr), "", logger), logger)
	}
	d, err := daemon.New(cfg, logger, mgr, server)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, rt
}

func TestDaemonStartStop(t *testing.T) {
	d, rt := newDaemon(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running || !status.Workflow.Running {
		t.Fatalf("expected daemon and workflow to report running: %+v", status)
	}
	if status.QueueDBPath != rt.Config.DatabasePath() {
		t.Fatalf("queue db path = %q", status.QueueDBPath)
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
}

func TestDaemonLockPreventsSecondInstance(t *testing.T) {
	first, rt := newDaemon(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer first.Stop()

	second, err := daemon.New(rt.Config, logging.NewNop(), workflow.NewManager(rt.Config, rt.Store, rt.Batch, rt.Steps, logging.NewNop()), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := second.Start(ctx); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestDaemonRunReturnsOnCancel(t *testing.T) {
	d, _ := newDaemon(t, true)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !d.Status(context.Background()).Running {
		if time.Now().After(deadline) {
			t.Fatal("daemon did not start")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
