// Package upgrade orchestrates versioned upgrade tasks against a persistent
// installation: it orders the registered tasks, skips the ones already
// recorded in the history store, applies the rest sequentially and decides
// whether a full reindex is needed afterwards.
package upgrade

import (
	"context"
	"fmt"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// Task is a single versioned upgrade step.
//
// Apply must be idempotent in effect: a crash between Apply returning and the
// history record being written causes Apply to run again on the next start.
// Returning a *ValidationError (or an error wrapping one) reports non-fatal
// problems; any other error aborts the run.
//
// IsReindexRequired is only called after Apply succeeded and must not mutate
// anything.
type Task interface {
	TargetVersion() version.Version
	ShortDescription() string
	Apply(ctx context.Context, setupMode bool) error
	IsReindexRequired(ctx context.Context) (bool, error)
}

// Identified is implemented by tasks that provide their own history identity.
// Tasks without it are identified by their target version.
type Identified interface {
	TaskID() string
}

// Transactional is implemented by tasks whose Apply can share a single
// storage transaction with the history record and the version pointer.
type Transactional interface {
	Atomic() bool
}

// DefaultTaskID returns the history identity used for a task targeting v.
func DefaultTaskID(v version.Version) string {
	return "upgrade_task_" + v.String()
}

// TaskID returns the history identity of t.
func TaskID(t Task) string {
	if it, ok := t.(Identified); ok {
		if id := it.TaskID(); id != "" {
			return id
		}
	}
	return DefaultTaskID(t.TargetVersion())
}

func isAtomic(t Task) bool {
	at, ok := t.(Transactional)
	return ok && at.Atomic()
}

// Func adapts plain functions to the Task interface.
type Func struct {
	ID          string
	Version     version.Version
	Description string
	// ApplyFunc performs the upgrade. A nil ApplyFunc is a no-op.
	ApplyFunc func(ctx context.Context, setupMode bool) error
	// ReindexFunc computes the reindex requirement; when nil, Reindex is used.
	ReindexFunc func(ctx context.Context) (bool, error)
	Reindex     bool
	InTx        bool
}

var (
	_ Task          = (*Func)(nil)
	_ Identified    = (*Func)(nil)
	_ Transactional = (*Func)(nil)
)

func (f *Func) TargetVersion() version.Version { return f.Version }

func (f *Func) ShortDescription() string { return f.Description }

func (f *Func) TaskID() string { return f.ID }

func (f *Func) Atomic() bool { return f.InTx }

func (f *Func) Apply(ctx context.Context, setupMode bool) error {
	if f.ApplyFunc == nil {
		return nil
	}
	return f.ApplyFunc(ctx, setupMode)
}

func (f *Func) IsReindexRequired(ctx context.Context) (bool, error) {
	if f.ReindexFunc != nil {
		return f.ReindexFunc(ctx)
	}
	return f.Reindex, nil
}

func (f *Func) String() string {
	return fmt.Sprintf("%s (%s)", f.Version, f.Description)
}

// Collector accumulates non-fatal problems found during one Apply call.
// Create a new Collector per call so no state survives between runs.
type Collector struct {
	messages []string
}

// Addf records a formatted message.
func (c *Collector) Addf(format string, args ...any) {
	c.messages = append(c.messages, fmt.Sprintf(format, args...))
}

// Add records err's message. Nil errors are ignored.
func (c *Collector) Add(err error) {
	if err != nil {
		c.messages = append(c.messages, err.Error())
	}
}

// Len returns the number of collected messages.
func (c *Collector) Len() int { return len(c.messages) }

// Err returns a *ValidationError holding the collected messages, or nil.
func (c *Collector) Err() error {
	if len(c.messages) == 0 {
		return nil
	}
	msgs := make([]string, len(c.messages))
	copy(msgs, c.messages)
	return &ValidationError{Messages: msgs}
}
