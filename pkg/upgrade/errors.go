package upgrade

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

var (
	// ErrDuplicateTargetVersion is returned when two tasks claim the same version.
	ErrDuplicateTargetVersion = errors.New("duplicate target version")
	// ErrDuplicateTaskID is returned when two tasks claim the same history identity.
	ErrDuplicateTaskID = errors.New("duplicate task id")
	// ErrRunInProgress is returned when a run is requested while another one
	// is executing on the same orchestrator.
	ErrRunInProgress = errors.New("upgrade run already in progress")
)

// ValidationError carries non-fatal problems collected by a task. The task is
// still recorded as completed.
type ValidationError struct {
	Messages []string
}

// NewValidationError builds a ValidationError from messages.
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

func (e *ValidationError) Error() string {
	switch len(e.Messages) {
	case 0:
		return "validation failed"
	case 1:
		return e.Messages[0]
	}
	return fmt.Sprintf("%d validation errors: %s", len(e.Messages), strings.Join(e.Messages, "; "))
}

// TaskExecutionError is a fatal failure of a single task.
type TaskExecutionError struct {
	TaskID  string
	Version version.Version
	Err     error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("upgrade task %s (version %s) failed: %v", e.TaskID, e.Version, e.Err)
}

func (e *TaskExecutionError) Unwrap() error { return e.Err }

// FatalOrchestrationError is a failure of the orchestration machinery itself,
// typically the storage backend or the run lock.
type FatalOrchestrationError struct {
	Op  string
	Err error
}

func (e *FatalOrchestrationError) Error() string {
	return fmt.Sprintf("upgrade orchestration failed to %s: %v", e.Op, e.Err)
}

func (e *FatalOrchestrationError) Unwrap() error { return e.Err }

// ReindexTriggerError reports that the reindex could not be started after a
// successful run. It never fails the run.
type ReindexTriggerError struct {
	Err error
}

func (e *ReindexTriggerError) Error() string {
	return fmt.Sprintf("failed to trigger reindex: %v", e.Err)
}

func (e *ReindexTriggerError) Unwrap() error { return e.Err }

// IsFatal reports whether err aborts a run.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var te *TaskExecutionError
	var fe *FatalOrchestrationError
	if errors.As(err, &te) || errors.As(err, &fe) {
		return true
	}
	var ve *ValidationError
	var re *ReindexTriggerError
	return !errors.As(err, &ve) && !errors.As(err, &re)
}
