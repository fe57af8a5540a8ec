package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kubeflow/upgrade-manager/pkg/store"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

// HistorySource lists what the upgrade backend has recorded.
type HistorySource interface {
	ListHistory(ctx context.Context) ([]store.UpgradeHistory, error)
	ListVersionHistory(ctx context.Context) ([]store.UpgradeVersionHistory, error)
	CurrentVersion(ctx context.Context) (version.Version, error)
}

// ListRunsHandler handles GET /runs
// Query params: outcome, pass, pageSize, pageToken
func ListRunsHandler(log *RunLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := RunListFilter{
			Outcome: q.Get("outcome"),
			Pass:    q.Get("pass"),
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			if v, err := strconv.Atoi(ps); err == nil && v > 0 {
				pageSize = v
			}
		}

		records, nextToken, total, err := log.List(r.Context(), filter, pageSize, q.Get("pageToken"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list runs: %v", err))
			return
		}

		runs := make([]runResponse, len(records))
		for i := range records {
			runs[i] = recordToResponse(&records[i])
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"runs":          runs,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// GetRunHandler handles GET /runs/{runId}. The full report is included.
func GetRunHandler(log *RunLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runId")
		if runID == "" {
			writeError(w, http.StatusBadRequest, "missing run ID")
			return
		}

		rec, err := log.Get(r.Context(), runID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get run: %v", err))
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("run %q not found", runID))
			return
		}

		resp := recordToResponse(rec)
		resp.Report = rec.Report
		writeJSON(w, http.StatusOK, resp)
	}
}

// HistoryHandler handles GET /history
func HistoryHandler(src HistorySource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := src.CurrentVersion(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read version: %v", err))
			return
		}
		tasks, err := src.ListHistory(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list history: %v", err))
			return
		}
		versions, err := src.ListVersionHistory(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list version history: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"currentVersion": current,
			"tasks":          tasks,
			"versions":       versions,
		})
	}
}

// runResponse is the API response for a run.
type runResponse struct {
	ID               string          `json:"id"`
	Pass             string          `json:"pass"`
	SetupMode        bool            `json:"setupMode"`
	State            string          `json:"state"`
	Outcome          string          `json:"outcome"`
	StartVersion     string          `json:"startVersion"`
	FinalVersion     string          `json:"finalVersion"`
	Planned          int             `json:"planned"`
	Executed         int             `json:"executed"`
	Skipped          int             `json:"skipped"`
	Warnings         int             `json:"warnings"`
	FailedTask       string          `json:"failedTask,omitempty"`
	ReindexTriggered bool            `json:"reindexTriggered"`
	ReindexDeferred  bool            `json:"reindexDeferred"`
	Error            string          `json:"error,omitempty"`
	StartedAt        string          `json:"startedAt"`
	FinishedAt       string          `json:"finishedAt,omitempty"`
	Report           *upgrade.Report `json:"report,omitempty"`
}

func recordToResponse(rec *RunRecord) runResponse {
	resp := runResponse{
		ID:               rec.ID,
		Pass:             rec.Pass,
		SetupMode:        rec.SetupMode,
		State:            rec.State,
		Outcome:          rec.Outcome,
		StartVersion:     rec.StartVersion,
		FinalVersion:     rec.FinalVersion,
		Planned:          rec.Planned,
		Executed:         rec.Executed,
		Skipped:          rec.Skipped,
		Warnings:         rec.Warnings,
		FailedTask:       rec.FailedTask,
		ReindexTriggered: rec.ReindexTriggered,
		ReindexDeferred:  rec.ReindexDeferred,
		Error:            rec.Error,
		StartedAt:        rec.StartedAt.Format(time.RFC3339),
	}
	if !rec.FinishedAt.IsZero() {
		resp.FinishedAt = rec.FinishedAt.Format(time.RFC3339)
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
