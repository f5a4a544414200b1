package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/octahive/octabot/internal/actions"
	"github.com/octahive/octabot/internal/clock"
	"github.com/octahive/octabot/internal/db"
	"github.com/octahive/octabot/internal/enginerr"
	"github.com/octahive/octabot/internal/models"
	"github.com/octahive/octabot/internal/registry"
)

// fakePluginHost satisfies registry.PluginHost without a compiled .wasm
// plugin, so scheduler tests never touch wasmtime.
type fakePluginHost struct {
	plugins map[string]*registry.Plugin
}

func (f *fakePluginHost) Get(name string) (*registry.Plugin, error) {
	p, ok := f.plugins[name]
	if !ok {
		return nil, enginerr.UnknownPlugin(name)
	}
	return p, nil
}

// fakeProcessor satisfies registry.Processor with a canned result or error.
type fakeProcessor struct {
	results []models.PluginResult
	err     error
	// blockOnCtx, if set, waits for ctx to be cancelled before returning err.
	blockOnCtx bool
}

func (f *fakeProcessor) Process(ctx context.Context, _ models.ProcessEnvelope) ([]models.PluginResult, error) {
	if f.blockOnCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.results, f.err
}

func taskColumnNames() []string {
	return []string{"id", "name", "type", "status", "project_id", "retries",
		"external_id", "external_modified_at", "schedule", "start_at", "options",
		"locked_at", "created_at", "updated_at"}
}

func newTestScheduler(t *testing.T, host registry.PluginHost) (*Scheduler, sqlmock.Sqlmock, *clock.Mock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	database := db.NewDatabaseForTesting(sqlDB)
	store := db.NewTaskStore(database)
	projects := db.NewProjectStore(database)
	dispatcher := actions.NewDispatcher(map[string]actions.Handler{})
	mockClock := clock.NewMock(time.Unix(1_700_000_000, 0).UTC())

	cfg := DefaultConfig()
	cfg.MaxRetries = 2
	cfg.RetryBase = 5 * time.Second
	cfg.RetryCap = time.Hour

	s, err := New(cfg, store, projects, host, dispatcher, mockClock, nil)
	require.NoError(t, err)
	return s, mock, mockClock
}

func TestScheduler_Execute_UnknownPlugin(t *testing.T) {
	host := &fakePluginHost{plugins: map[string]*registry.Plugin{}}
	s, mock, _ := newTestScheduler(t, host)

	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	task := &models.Task{ID: "t1", Kind: "missing", Retries: 0}
	s.execute(context.Background(), task)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduler_Execute_SuccessWithTaskAndActionResults(t *testing.T) {
	processor := &fakeProcessor{results: []models.PluginResult{
		{Action: &models.ActionResult{Name: "unregistered.action", Payload: json.RawMessage(`{}`)}},
		{Task: &models.TaskResult{Name: "follow-up", Kind: "echo", ProjectCode: "proj", StartAt: 1_700_000_100, Options: json.RawMessage(`{}`)}},
	}}
	host := &fakePluginHost{plugins: map[string]*registry.Plugin{
		"echo": {Metadata: models.PluginMetadata{Name: "echo"}, Sandbox: processor},
	}}
	s, mock, _ := newTestScheduler(t, host)

	mock.ExpectQuery(`SELECT id, code, name, owner_id, options, created_at, updated_at`).
		WithArgs("proj").
		WillReturnRows(sqlmock.NewRows([]string{"id", "code", "name", "owner_id", "options", "created_at", "updated_at"}).
			AddRow("proj-id", "proj", "Project", "owner-1", []byte(`{}`), time.Now(), time.Now()))
	mock.ExpectQuery("INSERT INTO tasks").
		WillReturnRows(sqlmock.NewRows(taskColumnNames()).
			AddRow("t2", "follow-up", "echo", "new", "proj-id", 0, nil, nil, nil, int64(1_700_000_100), []byte(`{}`), nil, time.Now(), time.Now()))
	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	task := &models.Task{ID: "t1", Kind: "echo", ProjectID: "proj-id", Retries: 0}
	s.execute(context.Background(), task)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduler_Execute_RecurringTaskReinsertsWithSchedule(t *testing.T) {
	processor := &fakeProcessor{}
	host := &fakePluginHost{plugins: map[string]*registry.Plugin{
		"echo": {Metadata: models.PluginMetadata{Name: "echo"}, Sandbox: processor},
	}}
	s, mock, mockClock := newTestScheduler(t, host)
	schedule := "0 0 * * *"

	mock.ExpectQuery("INSERT INTO tasks").
		WillReturnRows(sqlmock.NewRows(taskColumnNames()).
			AddRow("t2", "daily", "echo", "new", "proj-id", 0, nil, nil, schedule, int64(1_700_006_400), []byte(`{}`), nil, time.Now(), time.Now()))
	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	task := &models.Task{ID: "t1", Kind: "echo", ProjectID: "proj-id", Schedule: &schedule, StartAt: mockClock.Now().Unix()}
	s.execute(context.Background(), task)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduler_Execute_FailureRetriesUnderMaxRetries(t *testing.T) {
	processor := &fakeProcessor{err: errors.New("plugin trapped")}
	host := &fakePluginHost{plugins: map[string]*registry.Plugin{
		"echo": {Metadata: models.PluginMetadata{Name: "echo"}, Sandbox: processor},
	}}
	s, mock, _ := newTestScheduler(t, host)

	mock.ExpectExec(`UPDATE tasks SET status = 'retried'`).WillReturnResult(sqlmock.NewResult(0, 1))

	task := &models.Task{ID: "t1", Kind: "echo", Retries: 0}
	s.execute(context.Background(), task)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduler_Execute_FailurePermanentAtMaxRetries(t *testing.T) {
	processor := &fakeProcessor{err: errors.New("plugin trapped")}
	host := &fakePluginHost{plugins: map[string]*registry.Plugin{
		"echo": {Metadata: models.PluginMetadata{Name: "echo"}, Sandbox: processor},
	}}
	s, mock, _ := newTestScheduler(t, host)

	mock.ExpectExec("UPDATE tasks SET status").WillReturnResult(sqlmock.NewResult(0, 1))

	task := &models.Task{ID: "t1", Kind: "echo", Retries: 2}
	s.execute(context.Background(), task)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduler_Execute_CancelledLeavesTaskUntouched(t *testing.T) {
	processor := &fakeProcessor{blockOnCtx: true}
	host := &fakePluginHost{plugins: map[string]*registry.Plugin{
		"echo": {Metadata: models.PluginMetadata{Name: "echo"}, Sandbox: processor},
	}}
	s, mock, _ := newTestScheduler(t, host)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := &models.Task{ID: "t1", Kind: "echo", Retries: 0}
	s.execute(ctx, task)

	// No store call expected: a cancelled in-flight call leaves the row
	// in_progress for lease-expiry recovery, never an explicit mark.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScheduler_Wake_NeverBlocks(t *testing.T) {
	s, err := New(DefaultConfig(), nil, nil, nil, nil, clock.System{}, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		s.Wake()
	}
	select {
	case <-s.wake:
	default:
		t.Fatal("expected a pending wake signal")
	}
}

func TestBackoff_RespectsCapAndJitterBounds(t *testing.T) {
	base := 5 * time.Second
	capacity := 20 * time.Second

	want := 2 * base
	d := backoff(1, base, capacity)
	if d < time.Duration(float64(want)*0.9) || d > time.Duration(float64(want)*1.1) {
		t.Fatalf("backoff(1) = %v, want within 10%% of %v", d, want)
	}

	d = backoff(10, base, capacity)
	if d < time.Duration(float64(capacity)*0.9) || d > time.Duration(float64(capacity)*1.1) {
		t.Fatalf("backoff(10) = %v, want within 10%% of cap %v", d, capacity)
	}
}
