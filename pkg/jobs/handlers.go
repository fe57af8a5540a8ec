package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// GetJobHandler handles GET /jobs/{jobId}
func GetJobHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		if jobID == "" {
			writeError(w, http.StatusBadRequest, "missing job ID")
			return
		}

		job, err := store.Get(r.Context(), jobID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get job: %v", err))
			return
		}
		if job == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("job %q not found", jobID))
			return
		}

		writeJSON(w, http.StatusOK, ToJobResponse(job))
	}
}

// ListJobsHandler handles GET /jobs
// Query params: state, requestedBy, runId, pageSize, pageToken
func ListJobsHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := JobListFilter{
			State:       q.Get("state"),
			RequestedBy: q.Get("requestedBy"),
			RunID:       q.Get("runId"),
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		records, nextToken, total, err := store.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list jobs: %v", err))
			return
		}

		jobs := make([]JobResponse, len(records))
		for i := range records {
			jobs[i] = ToJobResponse(&records[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":          jobs,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

type enqueueRequest struct {
	Reason string `json:"reason"`
}

// EnqueueJobHandler handles POST /jobs. It requests a full reindex, or
// returns the one already outstanding.
func EnqueueJobHandler(trigger *QueueTrigger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req enqueueRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
				return
			}
		}
		if req.Reason == "" {
			req.Reason = "requested through API"
		}

		job, err := trigger.Enqueue(r.Context(), req.Reason, "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, ToJobResponse(job))
	}
}

// CancelJobHandler handles POST /jobs/{jobId}:cancel
func CancelJobHandler(store *JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobId")
		if jobID == "" {
			writeError(w, http.StatusBadRequest, "missing job ID")
			return
		}

		if err := store.Cancel(r.Context(), jobID); err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, ErrJobNotFound):
				status = http.StatusNotFound
			case errors.Is(err, ErrJobNotCancelable):
				status = http.StatusConflict
			}
			writeError(w, status, fmt.Sprintf("failed to cancel job: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"status": "canceled",
			"jobId":  jobID,
		})
	}
}

// JobResponse is the API representation of a reindex job.
type JobResponse struct {
	ID               string `json:"id"`
	Reason           string `json:"reason,omitempty"`
	RunID            string `json:"runId,omitempty"`
	RequestedBy      string `json:"requestedBy"`
	RequestedAt      string `json:"requestedAt"`
	State            string `json:"state"`
	Message          string `json:"message,omitempty"`
	StartedAt        string `json:"startedAt,omitempty"`
	FinishedAt       string `json:"finishedAt,omitempty"`
	AttemptCount     int    `json:"attemptCount"`
	LastError        string `json:"lastError,omitempty"`
	DocumentsIndexed int    `json:"documentsIndexed,omitempty"`
	DurationMs       int64  `json:"durationMs,omitempty"`
}

// ToJobResponse converts a job to its API representation.
func ToJobResponse(job *ReindexJob) JobResponse {
	resp := JobResponse{
		ID:               job.ID,
		Reason:           job.Reason,
		RunID:            job.RunID,
		RequestedBy:      job.RequestedBy,
		RequestedAt:      job.RequestedAt.Format(time.RFC3339),
		State:            string(job.State),
		Message:          job.Message,
		AttemptCount:     job.AttemptCount,
		LastError:        job.LastError,
		DocumentsIndexed: job.DocumentsIndexed,
		DurationMs:       job.DurationMs,
	}
	if job.StartedAt != nil {
		resp.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.FinishedAt != nil {
		resp.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
