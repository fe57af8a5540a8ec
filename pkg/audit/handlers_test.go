package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubeflow/upgrade-manager/pkg/store"
	"github.com/kubeflow/upgrade-manager/pkg/upgrade"
	"github.com/kubeflow/upgrade-manager/pkg/version"
)

func setupRouter(t *testing.T) (*RunLog, *store.Store, http.Handler) {
	t.Helper()
	db := setupTestDB(t)
	backend := store.NewStore(db)
	require.NoError(t, backend.AutoMigrate())
	log := NewRunLog(db, nil)
	return log, backend, Router(log, backend)
}

func TestListRunsHandler(t *testing.T) {
	log, _, r := setupRouter(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	require.NoError(t, log.RecordRun(ctx, testReport("a", base)))
	require.NoError(t, log.RecordRun(ctx, testReport("b", base.Add(time.Minute))))
	require.NoError(t, log.RecordRun(ctx, testReport("c", base.Add(2*time.Minute))))

	req := httptest.NewRequest(http.MethodGet, "/runs?pageSize=2", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Runs          []runResponse `json:"runs"`
		NextPageToken string        `json:"nextPageToken"`
		TotalSize     int           `json:"totalSize"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "c", resp.Runs[0].ID)
	assert.Nil(t, resp.Runs[0].Report)
	assert.NotEmpty(t, resp.NextPageToken)
	assert.Equal(t, 3, resp.TotalSize)
}

func TestListRunsHandler_FilterByOutcome(t *testing.T) {
	log, _, r := setupRouter(t)
	ctx := context.Background()

	ok := testReport("ok", time.Now())
	ok.Outcome = upgrade.OutcomeSucceeded
	require.NoError(t, log.RecordRun(ctx, ok))
	require.NoError(t, log.RecordRun(ctx, testReport("warn", time.Now())))

	req := httptest.NewRequest(http.MethodGet, "/runs?outcome=succeeded", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, float64(1), resp["totalSize"])
}

func TestListRunsHandler_BadPageToken(t *testing.T) {
	_, _, r := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/runs?pageToken=yesterday", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestGetRunHandler_IncludesReport(t *testing.T) {
	log, _, r := setupRouter(t)
	require.NoError(t, log.RecordRun(context.Background(), testReport("run-1", time.Now())))

	req := httptest.NewRequest(http.MethodGet, "/runs/run-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp runResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "run-1", resp.ID)
	require.NotNil(t, resp.Report)
	assert.Len(t, resp.Report.Executed, 2)
}

func TestGetRunHandler_NotFound(t *testing.T) {
	_, _, r := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/runs/missing", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryHandler(t *testing.T) {
	_, backend, r := setupRouter(t)
	ctx := context.Background()

	require.NoError(t, backend.RecordCompletion(ctx, upgrade.HistoryRecord{
		TaskID:      "upgrade_task_100",
		Version:     version.Build(100),
		Description: "lower-case user names",
		AppliedAt:   time.Now(),
	}))
	require.NoError(t, backend.SetCurrentVersion(ctx, version.Build(100)))
	require.NoError(t, backend.RecordVersionReached(ctx, version.Build(100), time.Now()))

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		CurrentVersion string                        `json:"currentVersion"`
		Tasks          []store.UpgradeHistory        `json:"tasks"`
		Versions       []store.UpgradeVersionHistory `json:"versions"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "100", resp.CurrentVersion)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "upgrade_task_100", resp.Tasks[0].TaskID)
	assert.Len(t, resp.Versions, 1)
}

func TestRouterWithoutHistory(t *testing.T) {
	r := Router(NewRunLog(setupTestDB(t), nil), nil)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
