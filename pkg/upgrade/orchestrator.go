package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// Option configures optional Orchestrator collaborators.
type Option func(*Orchestrator)

// WithReindexer sets the reindex trigger.
func WithReindexer(r Reindexer) Option { return func(o *Orchestrator) { o.reindexer = r } }

// WithLocker sets the cross-process run lock.
func WithLocker(l Locker) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.locker = l
		}
	}
}

// WithRecorder sets the run log.
func WithRecorder(r Recorder) Option { return func(o *Orchestrator) { o.recorder = r } }

// WithObserver sets the event observer.
func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }

// WithPreUpgradeHook sets the hook run before a non-setup run with pending tasks.
func WithPreUpgradeHook(h PreUpgradeHook) Option { return func(o *Orchestrator) { o.hook = h } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// Orchestrator runs the registered tasks against one installation. Tasks are
// applied strictly sequentially in ascending version order; an Orchestrator
// executes at most one run at a time.
type Orchestrator struct {
	registry  *Registry
	backend   Backend
	cfg       *Config
	reindexer Reindexer
	locker    Locker
	recorder  Recorder
	observer  Observer
	hook      PreUpgradeHook
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	state   State
	running bool
}

// NewOrchestrator creates an orchestrator over registry and backend. A nil
// cfg uses DefaultConfig.
func NewOrchestrator(registry *Registry, backend Backend, cfg *Config, opts ...Option) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	o := &Orchestrator{
		registry: registry,
		backend:  backend,
		cfg:      cfg,
		locker:   noopLocker{},
		logger:   slog.Default(),
		now:      time.Now,
		state:    StateNotStarted,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the state of the current or most recent run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run applies every pending upgrade task. setupMode is handed to each task.
//
// The returned report is never nil except for ErrRunInProgress. A non-nil
// error means the run was aborted or could not start; validation warnings
// and reindex failures are only reported.
func (o *Orchestrator) Run(ctx context.Context, setupMode bool) (*Report, error) {
	return o.execute(ctx, PassUpgrade, setupMode)
}

// RunSetup applies the setup-pass tasks of a brand-new installation in setup
// mode and then moves the installation pointer to the application version,
// or to the latest registered task when no application version is set.
func (o *Orchestrator) RunSetup(ctx context.Context) (*Report, error) {
	return o.execute(ctx, PassSetup, true)
}

// Pending returns the tasks the next upgrade run would apply.
func (o *Orchestrator) Pending(ctx context.Context) ([]Task, error) {
	current, err := o.backend.CurrentVersion(ctx)
	if err != nil {
		return nil, &FatalOrchestrationError{Op: "read installed version", Err: err}
	}
	if !o.needsUpgrade(current) {
		return nil, nil
	}

	var pending []Task
	for task := range o.registry.TasksAfter(current) {
		done, err := o.backend.HasCompleted(ctx, TaskID(task))
		if err != nil {
			return nil, &FatalOrchestrationError{Op: "check upgrade history", Err: err}
		}
		if !done {
			pending = append(pending, task)
		}
	}
	return pending, nil
}

func (o *Orchestrator) needsUpgrade(current version.Version) bool {
	app := o.cfg.ApplicationVersion
	return app.IsZero() || current.Less(app)
}

func (o *Orchestrator) execute(ctx context.Context, pass Pass, setupMode bool) (*Report, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrRunInProgress
	}
	o.running = true
	o.state = StateNotStarted
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	r := &Report{
		RunID:              uuid.NewString(),
		SetupMode:          setupMode,
		Pass:               pass.String(),
		State:              StateNotStarted,
		ApplicationVersion: o.cfg.ApplicationVersion,
		Executed:           []TaskResult{},
		Skipped:            []TaskResult{},
		StartedAt:          o.now(),
	}

	o.logger.Info("upgrade run starting", "runID", r.RunID, "pass", r.Pass, "setupMode", setupMode)

	err := o.locker.WithLock(ctx, func() error {
		return o.runLocked(ctx, pass, r)
	})
	if err != nil && r.Err == nil {
		// The lock itself failed; nothing ran.
		err = &FatalOrchestrationError{Op: "acquire upgrade lock", Err: err}
		r.State = StateAborted
		r.Err = err
		o.setState(StateAborted)
	}

	o.finish(ctx, r)
	return r, err
}

func (o *Orchestrator) runLocked(ctx context.Context, pass Pass, r *Report) error {
	r.State = StateRunning
	o.setState(StateRunning)

	current, err := o.backend.CurrentVersion(ctx)
	if err != nil {
		return o.abort(r, &FatalOrchestrationError{Op: "read installed version", Err: err})
	}
	r.StartVersion, r.FinalVersion = current, current

	if pass == PassUpgrade && !o.needsUpgrade(current) {
		if current.Equal(o.cfg.ApplicationVersion) {
			o.logger.Info("installation is up to date", "version", current.String())
		} else if err := o.downgrade(ctx, r); err != nil {
			return o.abort(r, err)
		}
		return o.complete(ctx, r)
	}

	var plan []Task
	if pass == PassSetup {
		plan = slices.Collect(o.registry.SetupTasks())
	} else {
		plan = slices.Collect(o.registry.TasksAfter(current))
	}
	r.Planned = len(plan)

	if len(plan) > 0 && !r.SetupMode && o.hook != nil {
		if err := o.hook(ctx, plan); err != nil {
			return o.abort(r, &FatalOrchestrationError{Op: "run pre-upgrade hook", Err: err})
		}
	}

	r.started = true
	for _, task := range plan {
		if err := ctx.Err(); err != nil {
			return o.abort(r, &FatalOrchestrationError{Op: "continue upgrade run", Err: err})
		}
		if err := o.step(ctx, task, r); err != nil {
			return o.abort(r, err)
		}
	}

	return o.complete(ctx, r)
}

// step runs a single task and records its result in r.
func (o *Orchestrator) step(ctx context.Context, task Task, r *Report) error {
	id := TaskID(task)
	target := task.TargetVersion()
	result := TaskResult{TaskID: id, Version: target, Description: task.ShortDescription()}

	done, err := o.backend.HasCompleted(ctx, id)
	if err != nil {
		return &FatalOrchestrationError{Op: "check upgrade history for " + id, Err: err}
	}
	if done {
		o.logger.Info("skipping completed upgrade task", "task", id, "version", target.String())
		result.Status = TaskSkipped
		r.Skipped = append(r.Skipped, result)
		if err := o.advance(ctx, r, target); err != nil {
			return err
		}
		o.observe(result)
		return nil
	}

	o.logger.Info("running upgrade task",
		"task", id,
		"version", target.String(),
		"description", result.Description,
		"setupMode", r.SetupMode)

	start := o.now()
	var (
		warnings []string
		reindex  bool
	)
	body := func(ctx context.Context) (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = &TaskExecutionError{TaskID: id, Version: target, Err: fmt.Errorf("panic: %v", p)}
			}
		}()
		warnings, err = o.apply(ctx, task, id, r.SetupMode)
		if err != nil {
			return err
		}
		reindex, err = task.IsReindexRequired(ctx)
		if err != nil {
			return &TaskExecutionError{TaskID: id, Version: target, Err: fmt.Errorf("determine reindex requirement: %w", err)}
		}
		rec := HistoryRecord{
			TaskID:      id,
			Version:     target,
			Description: result.Description,
			AppliedAt:   o.now(),
			Warnings:    warnings,
		}
		if err := o.backend.RecordCompletion(ctx, rec); err != nil {
			return &FatalOrchestrationError{Op: "record completion of " + id, Err: err}
		}
		if version.Compare(target, r.FinalVersion) > 0 {
			if err := o.backend.SetCurrentVersion(ctx, target); err != nil {
				return &FatalOrchestrationError{Op: "persist installed version " + target.String(), Err: err}
			}
		}
		return nil
	}

	tx, canTx := o.backend.(Transactor)
	if isAtomic(task) && canTx {
		err = tx.InTransaction(ctx, body)
	} else {
		err = body(ctx)
	}
	result.Duration = o.now().Sub(start)

	if err != nil {
		result.Status = TaskFailed
		result.Error = err.Error()
		r.Failed = &result
		o.observe(result)
		o.logger.Error("upgrade task failed", "task", id, "version", target.String(), "error", err)
		return err
	}

	result.Warnings = warnings
	result.ReindexRequired = reindex
	result.Status = TaskApplied
	if len(warnings) > 0 {
		result.Status = TaskAppliedWithWarnings
		for _, w := range warnings {
			o.logger.Warn("upgrade task reported a problem", "task", id, "version", target.String(), "warning", w)
		}
	}
	r.Executed = append(r.Executed, result)
	r.ReindexRequired = r.ReindexRequired || reindex
	r.FinalVersion = version.Max(r.FinalVersion, target)
	o.observe(result)

	o.logger.Info("upgrade task completed",
		"task", id,
		"version", target.String(),
		"reindexRequired", reindex,
		"warnings", len(warnings),
		"duration", result.Duration.String())
	return nil
}

// apply invokes the task and classifies its error. Validation errors are
// returned as warnings unless the policy makes them fatal.
func (o *Orchestrator) apply(ctx context.Context, task Task, id string, setupMode bool) ([]string, error) {
	applyErr := task.Apply(ctx, setupMode)
	if applyErr == nil {
		return nil, nil
	}

	var verr *ValidationError
	if errors.As(applyErr, &verr) && o.cfg.ValidationPolicy != PolicyAbort {
		if len(verr.Messages) == 0 {
			return []string{verr.Error()}, nil
		}
		return slices.Clone(verr.Messages), nil
	}
	return nil, &TaskExecutionError{TaskID: id, Version: task.TargetVersion(), Err: applyErr}
}

// advance moves the persisted pointer forward to v if it is behind.
func (o *Orchestrator) advance(ctx context.Context, r *Report, v version.Version) error {
	if version.Compare(v, r.FinalVersion) <= 0 {
		return nil
	}
	if err := o.backend.SetCurrentVersion(ctx, v); err != nil {
		return &FatalOrchestrationError{Op: "persist installed version " + v.String(), Err: err}
	}
	r.FinalVersion = v
	return nil
}

// downgrade handles an installation newer than the running application.
func (o *Orchestrator) downgrade(ctx context.Context, r *Report) error {
	app := o.cfg.ApplicationVersion
	o.logger.Warn("installation is newer than the application",
		"installed", r.StartVersion.String(),
		"application", app.String())

	if !o.cfg.ScrubOnDowngrade {
		return nil
	}
	if scrubber, ok := o.backend.(HistoryScrubber); ok {
		n, err := scrubber.ScrubNewerThan(ctx, app)
		if err != nil {
			return &FatalOrchestrationError{Op: "scrub upgrade history newer than " + app.String(), Err: err}
		}
		if n > 0 {
			o.logger.Info("removed upgrade history newer than application", "count", n, "version", app.String())
		}
	}
	if err := o.backend.SetCurrentVersion(ctx, app); err != nil {
		return &FatalOrchestrationError{Op: "persist installed version " + app.String(), Err: err}
	}
	r.FinalVersion = app
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, r *Report) error {
	target := o.cfg.ApplicationVersion
	if target.IsZero() && r.Pass == PassSetup.String() {
		// A fresh install already has the shape every upgrade task produces.
		target = o.registry.Latest()
	}
	if !target.IsZero() && r.FinalVersion.Less(target) {
		if err := o.advance(ctx, r, target); err != nil {
			return o.abort(r, err)
		}
	}

	if r.FinalVersion.Compare(r.StartVersion) > 0 {
		if vh, ok := o.backend.(VersionHistoryRecorder); ok {
			if err := vh.RecordVersionReached(ctx, r.FinalVersion, o.now()); err != nil {
				r.notice("failed to record version history for %s: %v", r.FinalVersion, err)
			}
		}
	}

	r.State = StateCompleted
	o.setState(StateCompleted)

	if r.ReindexRequired {
		o.reindex(ctx, r)
	}
	return nil
}

func (o *Orchestrator) reindex(ctx context.Context, r *Report) {
	if !o.cfg.ReindexAllowed || o.reindexer == nil {
		r.ReindexDeferred = true
		reason := "reindex required by upgrade tasks but not allowed"
		if o.cfg.ReindexAllowed {
			reason = "reindex required by upgrade tasks but no reindexer is configured"
		}
		o.logger.Warn(reason, "runID", r.RunID)
		r.notice("%s; run a full reindex manually", reason)
		if d, ok := o.backend.(ReindexDeferrer); ok {
			if err := d.DeferReindex(ctx, reason); err != nil {
				r.notice("failed to persist deferred reindex notice: %v", err)
			}
		}
		return
	}

	o.logger.Info("triggering reindex", "runID", r.RunID)
	if err := o.reindexer.ReindexAll(ContextWithRunID(ctx, r.RunID)); err != nil {
		r.ReindexErr = &ReindexTriggerError{Err: err}
		o.logger.Error("failed to trigger reindex", "runID", r.RunID, "error", err)
		return
	}
	r.ReindexTriggered = true
}

func (o *Orchestrator) abort(r *Report, err error) error {
	r.State = StateAborted
	r.Err = err
	o.setState(StateAborted)
	return err
}

func (o *Orchestrator) observe(result TaskResult) {
	if o.observer != nil {
		o.observer.TaskFinished(result)
	}
}

func (o *Orchestrator) finish(ctx context.Context, r *Report) {
	r.FinishedAt = o.now()
	if r.Err != nil {
		r.Error = r.Err.Error()
	}
	r.Outcome = r.outcome()

	if o.recorder != nil {
		if err := o.recorder.RecordRun(ctx, r); err != nil {
			o.logger.Error("failed to record upgrade run", "runID", r.RunID, "error", err)
			r.notice("failed to record upgrade run: %v", err)
			r.Outcome = r.outcome()
		}
	}
	if o.observer != nil {
		o.observer.RunFinished(r)
	}

	attrs := []any{
		"runID", r.RunID,
		"outcome", r.Outcome,
		"executed", len(r.Executed),
		"skipped", len(r.Skipped),
		"version", r.FinalVersion.String(),
		"reindexTriggered", r.ReindexTriggered,
	}
	switch r.Outcome {
	case OutcomeSucceeded, OutcomeSucceededWithWarnings:
		o.logger.Info("upgrade run finished", attrs...)
	default:
		o.logger.Error("upgrade run failed", append(attrs, "error", r.Err)...)
	}
}
