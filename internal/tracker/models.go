package tracker

import (
	"encoding/json"
	"errors"
	"time"

	"gleaner/internal/status"
)

var (
	// ErrRunNotFound is returned when a pipeline run id does not exist.
	ErrRunNotFound = errors.New("pipeline run not found")
	// ErrRunClosed is returned when adding a step to a finalized run.
	ErrRunClosed = errors.New("pipeline run already finalized")
	// ErrStepNotFound is returned when a step run id does not exist.
	ErrStepNotFound = errors.New("step run not found")
)

// RunStatus is the lifecycle status of a pipeline run or step run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Trigger records why a pipeline run started.
type Trigger string

const (
	TriggerDiscovery  Trigger = "discovery"
	TriggerManual     Trigger = "manual"
	TriggerSingleStep Trigger = "single_step"
	TriggerRecovery   Trigger = "recovery"
)

// ParseTrigger maps user input to a Trigger, defaulting to manual.
func ParseTrigger(value string) Trigger {
	switch Trigger(value) {
	case TriggerDiscovery, TriggerSingleStep, TriggerRecovery:
		return Trigger(value)
	default:
		return TriggerManual
	}
}

// Run is one orchestration attempt for an item.
type Run struct {
	ID         int64
	ItemID     int64
	Trigger    Trigger
	Status     RunStatus
	Actor      string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Open reports whether the run has not been finalized.
func (r Run) Open() bool {
	return r.Status == StatusRunning
}

// StepRun is one execution of an enrichment step inside a run.
type StepRun struct {
	ID            int64
	RunID         int64
	Step          status.Step
	InputSnapshot json.RawMessage
	Status        RunStatus
	Result        json.RawMessage
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}

// Outcome is the terminal state applied by FinalizeRun.
type Outcome struct {
	Status RunStatus
	Error  string
}

// Completed returns a successful outcome.
func Completed() Outcome {
	return Outcome{Status: StatusCompleted}
}

// Failed returns a failed outcome carrying err's message.
func Failed(err error) Outcome {
	out := Outcome{Status: StatusFailed}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}
