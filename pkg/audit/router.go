package audit

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the run log and history API. The history
// routes are only mounted when src is non-nil.
func Router(log *RunLog, src HistorySource) chi.Router {
	r := chi.NewRouter()

	r.Get("/runs", ListRunsHandler(log))
	r.Get("/runs/{runId}", GetRunHandler(log))
	if src != nil {
		r.Get("/history", HistoryHandler(src))
	}

	return r
}
