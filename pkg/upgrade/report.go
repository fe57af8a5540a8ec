package upgrade

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// State is the orchestrator's run state.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// TaskStatus describes what happened to one task during a run.
type TaskStatus string

const (
	TaskApplied             TaskStatus = "applied"
	TaskAppliedWithWarnings TaskStatus = "applied_with_warnings"
	TaskSkipped             TaskStatus = "skipped"
	TaskFailed              TaskStatus = "failed"
)

// Outcome is the operator-facing summary of a run.
type Outcome string

const (
	OutcomeSucceeded             Outcome = "succeeded"
	OutcomeSucceededWithWarnings Outcome = "succeeded_with_warnings"
	OutcomeAborted               Outcome = "aborted"
	OutcomeNotStarted            Outcome = "not_started"
)

// TaskResult is the per-task entry of a Report.
type TaskResult struct {
	TaskID          string          `json:"taskId"`
	Version         version.Version `json:"version"`
	Description     string          `json:"description"`
	Status          TaskStatus      `json:"status"`
	Warnings        []string        `json:"warnings,omitempty"`
	ReindexRequired bool            `json:"reindexRequired,omitempty"`
	Duration        time.Duration   `json:"durationNs,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Report describes a finished (or refused) run.
type Report struct {
	RunID              string          `json:"runId"`
	SetupMode          bool            `json:"setupMode"`
	Pass               string          `json:"pass"`
	State              State           `json:"state"`
	Outcome            Outcome         `json:"outcome"`
	StartVersion       version.Version `json:"startVersion"`
	FinalVersion       version.Version `json:"finalVersion"`
	ApplicationVersion version.Version `json:"applicationVersion"`
	Planned            int             `json:"planned"`
	Executed           []TaskResult    `json:"executed"`
	Skipped            []TaskResult    `json:"skipped"`
	Failed             *TaskResult     `json:"failed,omitempty"`
	ReindexRequired    bool            `json:"reindexRequired"`
	ReindexTriggered   bool            `json:"reindexTriggered"`
	ReindexDeferred    bool            `json:"reindexDeferred"`
	// Notices are non-fatal run-level problems not tied to a single task.
	Notices    []string  `json:"notices,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// Err is the fatal error that aborted or prevented the run.
	Err error `json:"-"`
	// ReindexErr is set when the reindex could not be triggered.
	ReindexErr error `json:"-"`

	started bool
}

// Warning is a validation message attributed to a task.
type Warning struct {
	TaskID  string          `json:"taskId"`
	Version version.Version `json:"version"`
	Message string          `json:"message"`
}

// Warnings flattens the validation messages of every executed task.
func (r *Report) Warnings() []Warning {
	var out []Warning
	for _, res := range r.Executed {
		for _, msg := range res.Warnings {
			out = append(out, Warning{TaskID: res.TaskID, Version: res.Version, Message: msg})
		}
	}
	return out
}

// Succeeded reports whether the run completed, with or without warnings.
func (r *Report) Succeeded() bool {
	return r.State == StateCompleted
}

func (r *Report) outcome() Outcome {
	switch {
	case r.State == StateCompleted && (len(r.Warnings()) > 0 || len(r.Notices) > 0 || r.ReindexErr != nil):
		return OutcomeSucceededWithWarnings
	case r.State == StateCompleted:
		return OutcomeSucceeded
	case r.State == StateAborted && r.started:
		return OutcomeAborted
	}
	return OutcomeNotStarted
}

// Problems aggregates every error the run produced, fatal or not, or returns
// nil when there were none.
func (r *Report) Problems() error {
	var result *multierror.Error
	for _, w := range r.Warnings() {
		result = multierror.Append(result, fmt.Errorf("task %s (%s): %s", w.TaskID, w.Version, w.Message))
	}
	for _, n := range r.Notices {
		result = multierror.Append(result, fmt.Errorf("%s", n))
	}
	if r.ReindexErr != nil {
		result = multierror.Append(result, r.ReindexErr)
	}
	if r.Err != nil {
		result = multierror.Append(result, r.Err)
	}
	return result.ErrorOrNil()
}

func (r *Report) notice(format string, args ...any) {
	r.Notices = append(r.Notices, fmt.Sprintf(format, args...))
}
