package server

import (
	"context"
	"errors"
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
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"
	"go.uber.org/zap"

	"github.com/openreport-ai/orchestrator/internal/config"
	"github.com/openreport-ai/orchestrator/internal/db"
	"github.com/openreport-ai/orchestrator/internal/gate"
	"github.com/openreport-ai/orchestrator/internal/run"
	"github.com/openreport-ai/orchestrator/internal/workflows"
)

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock, *mocks.Client) {
	t.Helper()

	raw, dbmock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	store := db.NewRunStore(db.NewClientFromDB(sqlx.NewDb(raw, "postgres"), zap.NewNop()), zap.NewNop())

	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	tclient := &mocks.Client{}
	svc := NewService(tclient, store, gate.NewStore(rc, zap.NewNop()), config.DefaultRunConfig(), zap.NewNop())
	return svc, dbmock, tclient
}

func TestStartRunWorkflowOptions(t *testing.T) {
	svc, dbmock, tclient := newTestService(t)

	dbmock.ExpectExec("INSERT INTO research_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	var capturedOpts client.StartWorkflowOptions
	var capturedInput workflows.RunInput
	tclient.On("ExecuteWorkflow",
		mock.Anything,
		mock.MatchedBy(func(opts client.StartWorkflowOptions) bool {
			capturedOpts = opts
			return true
		}),
		mock.Anything,
		mock.AnythingOfType("workflows.RunInput"),
	).Run(func(args mock.Arguments) {
		capturedInput = args.Get(3).(workflows.RunInput)
	}).Return(&mocks.WorkflowRun{}, nil)

	maxSections := 3
	resp, err := svc.StartRun(context.Background(), StartRunRequest{
		Topic:  "  history of semiconductors  ",
		UserID: "user-1",
		Config: &config.RunConfigPatch{MaxSections: &maxSections},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)

	assert.True(t, strings.HasPrefix(capturedOpts.ID, "research-"))
	assert.Equal(t, workflows.TaskQueue, capturedOpts.TaskQueue)
	assert.Equal(t, "history of semiconductors", capturedInput.Topic)
	assert.Equal(t, "user-1", capturedInput.UserID)
	assert.Equal(t, 3, capturedInput.Config.MaxSections)
	assert.Equal(t, resp.RunID, strings.TrimPrefix(capturedOpts.ID, "research-"))
	require.NoError(t, dbmock.ExpectationsWereMet())
}

func TestStartRunRejectsInvalidConfig(t *testing.T) {
	svc, _, tclient := newTestService(t)

	bad := -2
	_, err := svc.StartRun(context.Background(), StartRunRequest{
		Topic:  "valid topic",
		Config: &config.RunConfigPatch{MaxSections: &bad},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	tclient.AssertNotCalled(t, "ExecuteWorkflow",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartRunMarksErrorWhenWorkflowStartFails(t *testing.T) {
	svc, dbmock, tclient := newTestService(t)

	dbmock.ExpectExec("INSERT INTO research_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))
	tclient.On("ExecuteWorkflow",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("temporal unavailable"))
	dbmock.ExpectExec("UPDATE research_runs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err := svc.StartRun(context.Background(), StartRunRequest{Topic: "valid topic"})
	require.Error(t, err)
	require.NoError(t, dbmock.ExpectationsWereMet())
}

func expectRunRow(dbmock sqlmock.Sqlmock, id, status string) {
	cols := []string{
		"id", "user_id", "topic", "status", "progress", "plan", "config",
		"final_report", "error_message", "created_at", "updated_at", "completed_at",
	}
	dbmock.ExpectQuery("SELECT id, user_id, topic").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			id, nil, "some topic", status, 0.5, nil, []byte(`{}`),
			nil, nil, time.Now(), time.Now(), nil))
	dbmock.ExpectQuery("SELECT name FROM research_sections").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
}

func TestDeleteRunTerminatesActiveWorkflow(t *testing.T) {
	svc, dbmock, tclient := newTestService(t)

	expectRunRow(dbmock, "run-1", "researching_sections")
	tclient.On("TerminateWorkflow",
		mock.Anything, "research-run-1", "", "run deleted").
		Return(nil)
	dbmock.ExpectExec("DELETE FROM research_runs").
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeleteRun(context.Background(), "run-1"))
	tclient.AssertExpectations(t)
	require.NoError(t, dbmock.ExpectationsWereMet())
}

func TestDeleteRunSkipsTerminateForFinishedRun(t *testing.T) {
	svc, dbmock, tclient := newTestService(t)

	expectRunRow(dbmock, "run-1", "completed")
	dbmock.ExpectExec("DELETE FROM research_runs").
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.DeleteRun(context.Background(), "run-1"))
	tclient.AssertNotCalled(t, "TerminateWorkflow",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestGetResultFailedRun(t *testing.T) {
	svc, dbmock, _ := newTestService(t)

	cols := []string{
		"id", "user_id", "topic", "status", "progress", "plan", "config",
		"final_report", "error_message", "created_at", "updated_at", "completed_at",
	}
	dbmock.ExpectQuery("SELECT id, user_id, topic").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			"run-1", nil, "some topic", "error", 0.2, nil, []byte(`{}`),
			nil, "planner exhausted retries", time.Now(), time.Now(), nil))
	dbmock.ExpectQuery("SELECT name FROM research_sections").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := svc.GetResult(context.Background(), "run-1")
	require.Error(t, err)
	var stateErr *run.InvalidStateError
	assert.False(t, errors.As(err, &stateErr))
	assert.Contains(t, err.Error(), "planner exhausted retries")
}
