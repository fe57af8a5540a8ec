package jobs

import (
	"github.com/go-chi/chi/v5"
)

// Router creates a chi.Router for the reindex job API. Enqueueing is only
// routed when trigger is non-nil.
func Router(store *JobStore, trigger *QueueTrigger) chi.Router {
	r := chi.NewRouter()

	r.Get("/jobs", ListJobsHandler(store))
	r.Get("/jobs/{jobId}", GetJobHandler(store))
	r.Post("/jobs/{jobId}:cancel", CancelJobHandler(store))
	if trigger != nil {
		r.Post("/jobs", EnqueueJobHandler(trigger))
	}

	return r
}
