package status_test

import (
	"errors"
	"testing"

	"gleaner/internal/status"
)

func defaultEntries() []status.Entry {
	codes := map[status.Status]int{
		status.Pending:       100,
		status.Fetching:      110,
		status.ToFilter:      115,
		status.Filtering:     120,
		status.ToSummarize:   130,
		status.Summarizing:   140,
		status.ToTag:         145,
		status.Tagging:       150,
		status.ToThumbnail:   155,
		status.Thumbnailing:  160,
		status.PendingReview: 200,
		status.Irrelevant:    300,
		status.Rejected:      310,
		status.Failed:        400,
	}
	entries := make([]status.Entry, 0, len(codes))
	for s, code := range codes {
		entries = append(entries, status.Entry{Name: s, Code: code, Phase: s.Phase()})
	}
	return entries
}

func TestRegistryRoundTrip(t *testing.T) {
	reg := status.NewRegistry()
	if err := reg.LoadEntries(defaultEntries()); err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	for _, s := range status.All() {
		code := reg.CodeOf(s)
		back, err := reg.StatusOf(code)
		if err != nil {
			t.Fatalf("StatusOf(%d): %v", code, err)
		}
		if back != s {
			t.Fatalf("round trip mismatch: %s -> %d -> %s", s, code, back)
		}
	}
	if _, err := reg.StatusOf(999); err == nil {
		t.Fatal("expected error for unknown code")
	}
}

func TestRegistryEmptyFailsLoudly(t *testing.T) {
	reg := status.NewRegistry()
	err := reg.LoadEntries(nil)
	if !errors.Is(err, status.ErrRegistryEmpty) {
		t.Fatalf("expected ErrRegistryEmpty, got %v", err)
	}
	if reg.Loaded() {
		t.Fatal("registry should not report loaded")
	}
}

func TestRegistryRejectsIncompleteTable(t *testing.T) {
	reg := status.NewRegistry()
	entries := defaultEntries()[:3]
	if err := reg.LoadEntries(entries); err == nil {
		t.Fatal("expected error for missing statuses")
	}
}

func TestCodeOfPanicsBeforeLoad(t *testing.T) {
	reg := status.NewRegistry()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	reg.CodeOf(status.Pending)
}

func TestCodeOfPanicsOnUnknownStatus(t *testing.T) {
	reg := status.NewRegistry()
	if err := reg.LoadEntries(defaultEntries()); err != nil {
		t.Fatalf("LoadEntries: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	reg.CodeOf(status.Status("archived"))
}

func TestEveryStatusHasPhase(t *testing.T) {
	for _, s := range status.All() {
		if s.Phase() == status.PhaseUnknown {
			t.Fatalf("status %s has no phase", s)
		}
	}
}

func TestResumePointFor(t *testing.T) {
	cases := []struct {
		in   status.Status
		want status.Step
		ok   bool
	}{
		{status.Pending, status.StepFetch, true},
		{status.ToFilter, status.StepFilter, true},
		{status.ToSummarize, status.StepSummarize, true},
		{status.ToTag, status.StepTag, true},
		{status.ToThumbnail, status.StepThumbnail, true},
		{status.Summarizing, status.StepNone, false},
		{status.PendingReview, status.StepNone, false},
		{status.Failed, status.StepNone, false},
	}
	for _, tc := range cases {
		got, ok := status.ResumePointFor(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ResumePointFor(%s) = %s,%v want %s,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestWorkingAndReadyAreConsistent(t *testing.T) {
	for _, step := range status.Steps() {
		working := status.WorkingFor(step)
		ready := status.ReadyFor(step)
		if !working.IsWorking() {
			t.Fatalf("%s: %s is not a working status", step, working)
		}
		if status.ReadyAfterWorking(working) != ready {
			t.Fatalf("%s: working %s resets to %s, want %s", step, working, status.ReadyAfterWorking(working), ready)
		}
		if got, _ := status.ResumePointFor(ready); got != step {
			t.Fatalf("%s: ready %s resumes at %s", step, ready, got)
		}
	}
}

func TestTransitionRules(t *testing.T) {
	cases := []struct {
		from, to status.Status
		ok       bool
	}{
		{status.ToTag, status.Tagging, true},
		{status.ToTag, status.Summarizing, false},
		{status.Pending, status.Fetching, true},
		{status.Summarizing, status.ToTag, true},
		{status.Summarizing, status.ToSummarize, true},
		{status.Filtering, status.Irrelevant, true},
		{status.Thumbnailing, status.Rejected, true},
		{status.PendingReview, status.ToTag, true},
		{status.PendingReview, status.Tagging, false},
		{status.Failed, status.Pending, true},
		{status.Irrelevant, status.PendingReview, false},
		{status.ToThumbnail, status.Failed, true},
		{status.ToThumbnail, status.PendingReview, true},
		{status.ToTag, status.Irrelevant, false},
		{status.Tagging, status.Tagging, true},
	}
	for _, tc := range cases {
		if got := status.Allowed(tc.from, tc.to); got != tc.ok {
			t.Fatalf("Allowed(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestStepSequence(t *testing.T) {
	if status.StepSummarize.Next() != status.StepTag {
		t.Fatal("summarize should be followed by tag")
	}
	if status.StepThumbnail.Next() != status.StepNone {
		t.Fatal("thumbnail is the last step")
	}
	if _, err := status.ParseStep("render"); err == nil {
		t.Fatal("expected error for unknown step")
	}
}
