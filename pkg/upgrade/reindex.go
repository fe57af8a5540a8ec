package upgrade

import "context"

// Reindexer rebuilds the derived search index. The orchestrator calls
// ReindexAll at most once per run.
type Reindexer interface {
	ReindexAll(ctx context.Context) error
}

// ReindexFunc adapts a function to the Reindexer interface.
type ReindexFunc func(ctx context.Context) error

func (f ReindexFunc) ReindexAll(ctx context.Context) error { return f(ctx) }

type runIDKey struct{}

// ContextWithRunID returns a context carrying the ID of the run that
// requested work, so a Reindexer can attribute what it queues.
func ContextWithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID set by ContextWithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
