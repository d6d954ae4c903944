package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/db"
	"github.com/openreport-ai/orchestrator/internal/gate"
	"github.com/openreport-ai/orchestrator/internal/run"
	"github.com/openreport-ai/orchestrator/internal/server"
	"github.com/openreport-ai/orchestrator/internal/streaming"
	"github.com/openreport-ai/orchestrator/internal/workflows"
)

type testAPI struct {
	mux      *http.ServeMux
	dbmock   sqlmock.Sqlmock
	temporal *mocks.Client
	gate     *gate.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	raw, dbmock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	store := db.NewRunStore(db.NewClientFromDB(sqlx.NewDb(raw, "postgres"), zap.NewNop()), zap.NewNop())

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	gateStore := gate.NewStore(rc, zap.NewNop())

	tclient := &mocks.Client{}
	svc := server.NewService(tclient, store, gateStore, config.DefaultRunConfig(), zaptest.NewLogger(t))

	h := NewHandler(svc, streaming.Get(), nil, zaptest.NewLogger(t))
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &testAPI{mux: mux, dbmock: dbmock, temporal: tclient, gate: gateStore}
}

var runColumns = []string{
	"id", "user_id", "topic", "status", "progress", "plan", "config",
	"final_report", "error_message", "created_at", "updated_at", "completed_at",
}

// expectGetRun queues the run row lookup plus its completed-sections query.
func (a *testAPI) expectGetRun(id, status string, plan []byte, report interface{}) {
	var planVal interface{}
	if plan != nil {
		planVal = plan
	}
	rows := sqlmock.NewRows(runColumns).AddRow(
		id, "user-1", "quantum computing", status, 0.5, planVal, []byte(`{}`),
		report, nil, time.Now(), time.Now(), nil)
	a.dbmock.ExpectQuery("SELECT id, user_id, topic").WillReturnRows(rows)
	a.dbmock.ExpectQuery("SELECT name FROM research_sections").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	a.mux.ServeHTTP(rr, req)
	return rr
}

func TestStartRun(t *testing.T) {
	api := newTestAPI(t)

	api.dbmock.ExpectExec("INSERT INTO research_runs").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "quantum computing", "initializing", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	api.temporal.On("ExecuteWorkflow",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&mocks.WorkflowRun{}, nil)

	rr := api.do(t, http.MethodPost, "/api/v1/research", `{"topic":"quantum computing"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp server.StartRunResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, run.StatusInitializing, resp.Status)
	api.temporal.AssertExpectations(t)
}

func TestStartRunEmptyTopic(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/api/v1/research", `{"topic":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	api.temporal.AssertNotCalled(t, "ExecuteWorkflow",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartRunMalformedBody(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodPost, "/api/v1/research", `{"topic":`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetRunNotFound(t *testing.T) {
	api := newTestAPI(t)

	api.dbmock.ExpectQuery("SELECT id, user_id, topic").
		WillReturnRows(sqlmock.NewRows(runColumns))

	rr := api.do(t, http.MethodGet, "/api/v1/research/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetRunWithPlan(t *testing.T) {
	api := newTestAPI(t)

	plan := []byte(`{"sections":[{"name":"Background","description":"History"}]}`)
	api.expectGetRun("run-1", "waiting_for_feedback", plan, nil)

	rr := api.do(t, http.MethodGet, "/api/v1/research/run-1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var rec run.ResearchRun
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, run.StatusWaitingForFeedback, rec.Status)
	require.NotNil(t, rec.Plan)
	assert.Equal(t, "Background", rec.Plan.Sections[0].Name)
}

func TestGetPlanNotReady(t *testing.T) {
	api := newTestAPI(t)

	api.expectGetRun("run-1", "planning", nil, nil)

	rr := api.do(t, http.MethodGet, "/api/v1/research/run-1/plan", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestSubmitFeedback(t *testing.T) {
	api := newTestAPI(t)

	require.NoError(t, api.gate.Open(context.Background(), "run-1", 1, nil))
	api.temporal.On("SignalWorkflow",
		mock.Anything, "research-run-1", "", workflows.SignalPlanFeedback,
		workflows.PlanFeedback{Feedback: "tighten the scope"}).
		Return(nil)

	rr := api.do(t, http.MethodPost, "/api/v1/research/run-1/feedback",
		`{"feedback":"tighten the scope"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	api.temporal.AssertExpectations(t)
}

func TestSubmitFeedbackGateClosed(t *testing.T) {
	api := newTestAPI(t)

	// No gate record: the handler reports the run's actual state.
	api.expectGetRun("run-1", "researching_sections", nil, nil)

	rr := api.do(t, http.MethodPost, "/api/v1/research/run-1/feedback",
		`{"feedback":""}`)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "researching_sections")
	api.temporal.AssertNotCalled(t, "SignalWorkflow",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetResultNotReady(t *testing.T) {
	api := newTestAPI(t)

	api.expectGetRun("run-1", "researching_sections", nil, nil)

	rr := api.do(t, http.MethodGet, "/api/v1/research/run-1/result", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestGetResult(t *testing.T) {
	api := newTestAPI(t)

	api.expectGetRun("run-1", "completed", nil, "# Quantum Computing\n\nReport body.")

	rr := api.do(t, http.MethodGet, "/api/v1/research/run-1/result", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		RunID  string `json:"run_id"`
		Report string `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Contains(t, resp.Report, "Quantum Computing")
}

func TestDeleteRun(t *testing.T) {
	api := newTestAPI(t)

	api.expectGetRun("run-1", "completed", nil, nil)
	api.dbmock.ExpectExec("DELETE FROM research_runs").
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rr := api.do(t, http.MethodDelete, "/api/v1/research/run-1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)
	api.temporal.AssertNotCalled(t, "TerminateWorkflow",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetSections(t *testing.T) {
	api := newTestAPI(t)

	api.expectGetRun("run-1", "researching_sections", nil, nil)
	api.dbmock.ExpectQuery("SELECT run_id, position, name").
		WillReturnRows(sqlmock.NewRows([]string{
			"run_id", "position", "name", "description", "status",
			"content", "citations", "updated_at", "completed_at",
		}).
			AddRow("run-1", 0, "Background", "History", "completed",
				"Researched content.", []byte(`[{"title":"Source","url":"https://example.com"}]`), time.Now(), nil).
			AddRow("run-1", 1, "Applications", "Uses", "researching",
				nil, nil, time.Now(), nil))

	rr := api.do(t, http.MethodGet, "/api/v1/research/run-1/sections", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Sections []sectionView `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Sections, 2)
	assert.Equal(t, "Background", resp.Sections[0].Name)
	assert.Equal(t, "Researched content.", resp.Sections[0].Content)
	require.Len(t, resp.Sections[0].Citations, 1)
	assert.Empty(t, resp.Sections[1].Content)
}

func TestEventsReplay(t *testing.T) {
	api := newTestAPI(t)

	api.expectGetRun("run-ev-1", "researching_sections", nil, nil)

	mgr := streaming.Get()
	mgr.Publish("run-ev-1", streaming.Event{RunID: "run-ev-1", Type: streaming.EventPlanReady})
	mgr.Publish("run-ev-1", streaming.Event{RunID: "run-ev-1", Type: streaming.EventSectionStarted, Section: "Background"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/research/run-ev-1/events", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	api.mux.ServeHTTP(rr, req)

	body := rr.Body.String()
	assert.Contains(t, body, ": connected to run run-ev-1")
	assert.Contains(t, body, "event: plan_ready")
	assert.Contains(t, body, "event: section_started")
	assert.Contains(t, body, "id: 1")
	assert.Contains(t, body, "id: 2")
}

func TestEventsResumeFromLastEventID(t *testing.T) {
	api := newTestAPI(t)

	api.expectGetRun("run-ev-2", "researching_sections", nil, nil)

	mgr := streaming.Get()
	mgr.Publish("run-ev-2", streaming.Event{RunID: "run-ev-2", Type: streaming.EventPlanReady})
	mgr.Publish("run-ev-2", streaming.Event{RunID: "run-ev-2", Type: streaming.EventSectionCompleted, Section: "Background"})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/research/run-ev-2/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rr := httptest.NewRecorder()
	api.mux.ServeHTTP(rr, req)

	body := rr.Body.String()
	assert.NotContains(t, body, "event: plan_ready")
	assert.Contains(t, body, "event: section_completed")
}

func TestEventsRunNotFound(t *testing.T) {
	api := newTestAPI(t)

	api.dbmock.ExpectQuery("SELECT id, user_id, topic").
		WillReturnRows(sqlmock.NewRows(runColumns))

	rr := api.do(t, http.MethodGet, "/api/v1/research/missing/events", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestEventsTypeFilter(t *testing.T) {
	api := newTestAPI(t)

	api.expectGetRun("run-ev-3", "researching_sections", nil, nil)

	mgr := streaming.Get()
	mgr.Publish("run-ev-3", streaming.Event{RunID: "run-ev-3", Type: streaming.EventStatusChanged, Status: "planning"})
	mgr.Publish("run-ev-3", streaming.Event{RunID: "run-ev-3", Type: streaming.EventPlanReady})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/research/run-ev-3/events?types=plan_ready", nil).WithContext(ctx)
	rr := httptest.NewRecorder()
	api.mux.ServeHTTP(rr, req)

	body := rr.Body.String()
	assert.NotContains(t, body, "event: status_changed")
	assert.Contains(t, body, "event: plan_ready")
}

func TestListDocumentsWithoutIndex(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/api/v1/documents", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
