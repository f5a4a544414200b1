package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octahive/octabot/internal/models"
)

func TestTaskStore_UpsertTask_NoExternalID(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	store := NewTaskStore(NewDatabaseForTesting(sqlDB))
	now := time.Now()

	mock.ExpectQuery("INSERT INTO tasks").
		WillReturnRows(sqlmock.NewRows(taskColumnNames()).
			AddRow("t1", "echo-task", "echo", "new", "p1", 0, nil, nil, nil, int64(100), []byte(`{}`), nil, now, now))

	task, err := store.UpsertTask(context.Background(), models.TaskSpec{
		Name: "echo-task", Kind: "echo", ProjectID: "p1", StartAt: 100,
	})

	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_UpsertTask_ExternalIDIdempotent(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	store := NewTaskStore(NewDatabaseForTesting(sqlDB))
	extID := "e1"
	modAt := time.Now()

	// The WHERE clause rejects the write (existing row has an equal-or-newer
	// external_modified_at): no rows returned from the INSERT ... RETURNING.
	mock.ExpectQuery("INSERT INTO tasks").WillReturnRows(sqlmock.NewRows(taskColumnNames()))
	mock.ExpectQuery("SELECT " + taskColumns + " FROM tasks WHERE external_id").
		WithArgs(extID).
		WillReturnRows(sqlmock.NewRows(taskColumnNames()).
			AddRow("t1", "fanout-task", "echo", "new", "p1", 0, extID, modAt, nil, int64(100), []byte(`{}`), nil, modAt, modAt))

	task, err := store.UpsertTask(context.Background(), models.TaskSpec{
		Name: "fanout-task", Kind: "echo", ProjectID: "p1", StartAt: 100,
		ExternalID: &extID, ExternalModifiedAt: &modAt,
	})

	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_AcquireBatch(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	store := NewTaskStore(NewDatabaseForTesting(sqlDB))
	now := time.Now()

	mock.ExpectQuery("WITH candidates AS").
		WillReturnRows(sqlmock.NewRows(taskColumnNames()).
			AddRow("t1", "a", "echo", "in_progress", "p1", 0, nil, nil, nil, int64(1), []byte(`{}`), now, now, now))

	tasks, err := store.AcquireBatch(context.Background(), now, 5*time.Minute, 10)

	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.StatusInProgress, tasks[0].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskStore_MarkRetried(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	store := NewTaskStore(NewDatabaseForTesting(sqlDB))

	mock.ExpectExec("UPDATE tasks SET status = 'retried'").
		WithArgs(int64(200), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.MarkRetried(context.Background(), "t1", 200)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func taskColumnNames() []string {
	return []string{"id", "name", "type", "status", "project_id", "retries", "external_id",
		"external_modified_at", "schedule", "start_at", "options", "locked_at", "created_at", "updated_at"}
}
