// Task storage: the Task Store contract (C2) — idempotent upsert-by-
// external-id, atomic lease acquisition, and status transitions. This file
// is the one piece of the repo every scheduler tick touches, so every
// query here is written to be safe under concurrent callers without an
// application-level lock (§9 "shared task-store handle").
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/octahive/octabot/internal/models"
)

// ErrTaskNotFound is returned when a lookup by id matches no row.
var ErrTaskNotFound = errors.New("task not found")

// ErrTaskConflict is returned for unique-constraint violations that the
// idempotent upsert rule does not resolve (e.g. a raw primary-key clash).
var ErrTaskConflict = errors.New("task conflict")

const taskColumns = `id, name, type, status, project_id, retries, external_id,
	external_modified_at, schedule, start_at, options, locked_at, created_at, updated_at`

// TaskStore is the Postgres-backed Task store described by C2.
type TaskStore struct {
	db *Database
}

// NewTaskStore builds a TaskStore over an open Database.
func NewTaskStore(database *Database) *TaskStore {
	return &TaskStore{db: database}
}

// UpsertTask applies spec per the idempotency rule: when ExternalID is set
// and a row with that external id already exists, the row is updated only
// if spec.ExternalModifiedAt is strictly greater than the existing value
// (open question (a), resolved in favor of the first writer on ties).
// When ExternalID is nil, a new row is always inserted.
func (s *TaskStore) UpsertTask(ctx context.Context, spec models.TaskSpec) (*models.Task, error) {
	options := spec.Options
	if options == nil {
		options = json.RawMessage(`{}`)
	}

	if spec.ExternalID == nil {
		return s.insertTask(ctx, spec, options)
	}

	row := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO tasks (id, name, type, status, project_id, retries, external_id,
			external_modified_at, schedule, start_at, options)
		VALUES ($1, $2, $3, 'new', $4, 0, $5, $6, $7, $8, $9)
		ON CONFLICT (external_id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			project_id = EXCLUDED.project_id,
			external_modified_at = EXCLUDED.external_modified_at,
			schedule = EXCLUDED.schedule,
			start_at = EXCLUDED.start_at,
			options = EXCLUDED.options
		WHERE EXCLUDED.external_modified_at IS NOT NULL
			AND (tasks.external_modified_at IS NULL OR tasks.external_modified_at < EXCLUDED.external_modified_at)
		RETURNING `+taskColumns,
		uuid.NewString(), spec.Name, spec.Kind, spec.ProjectID, *spec.ExternalID,
		spec.ExternalModifiedAt, spec.Schedule, spec.StartAt, []byte(options))

	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		// WHERE clause rejected the update (tie or stale write): the
		// insert attempt is a no-op, so the existing row is unchanged.
		return s.getByExternalID(ctx, *spec.ExternalID)
	}
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrTaskConflict, err)
		}
		return nil, fmt.Errorf("upsert task: %w", err)
	}
	return task, nil
}

func (s *TaskStore) insertTask(ctx context.Context, spec models.TaskSpec, options json.RawMessage) (*models.Task, error) {
	row := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO tasks (id, name, type, status, project_id, retries, external_id,
			external_modified_at, schedule, start_at, options)
		VALUES ($1, $2, $3, 'new', $4, 0, NULL, $5, $6, $7, $8)
		RETURNING `+taskColumns,
		uuid.NewString(), spec.Name, spec.Kind, spec.ProjectID,
		spec.ExternalModifiedAt, spec.Schedule, spec.StartAt, []byte(options))

	task, err := scanTask(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrTaskConflict, err)
		}
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

func (s *TaskStore) getByExternalID(ctx context.Context, externalID string) (*models.Task, error) {
	row := s.db.DB().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE external_id = $1`, externalID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// AcquireBatch atomically selects up to limit lease-eligible tasks and
// marks them in_progress in the same statement, so two concurrent callers
// never receive overlapping ids: the inner SELECT ... FOR UPDATE SKIP
// LOCKED reserves its rows before the UPDATE commits them. A task is
// eligible when it is new/retried and unlocked (or its lock is stale), or
// when it is in_progress under a lock older than leaseTTL.
func (s *TaskStore) AcquireBatch(ctx context.Context, now time.Time, leaseTTL time.Duration, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		return nil, nil
	}

	staleBefore := now.Add(-leaseTTL)
	nowEpoch := now.Unix()

	rows, err := s.db.DB().QueryContext(ctx, `
		WITH candidates AS (
			SELECT id FROM tasks
			WHERE start_at <= $1
				AND (
					(status IN ('new', 'retried') AND (locked_at IS NULL OR locked_at < $2))
					OR (status = 'in_progress' AND locked_at < $2)
				)
			ORDER BY start_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE tasks SET locked_at = $4, status = 'in_progress'
		FROM candidates
		WHERE tasks.id = candidates.id
		RETURNING `+qualify(taskColumns, "tasks"),
		nowEpoch, staleBefore, limit, now)
	if err != nil {
		return nil, fmt.Errorf("acquire batch: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan acquired task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// MarkFinished transitions id to finished and clears its lease.
func (s *TaskStore) MarkFinished(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.StatusFinished)
}

// MarkFailed transitions id to failed and clears its lease.
func (s *TaskStore) MarkFailed(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.StatusFailed)
}

// MarkRetried transitions id to retried, increments retries, clears the
// lease, and reschedules start_at to nextStartAt.
func (s *TaskStore) MarkRetried(ctx context.Context, id string, nextStartAt int64) error {
	result, err := s.db.DB().ExecContext(ctx, `
		UPDATE tasks SET status = 'retried', retries = retries + 1, start_at = $1, locked_at = NULL
		WHERE id = $2`, nextStartAt, id)
	if err != nil {
		return fmt.Errorf("mark retried: %w", err)
	}
	return rowsAffectedOrNotFound(result)
}

func (s *TaskStore) setStatus(ctx context.Context, id, status string) error {
	result, err := s.db.DB().ExecContext(ctx, `
		UPDATE tasks SET status = $1, locked_at = NULL WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("mark %s: %w", status, err)
	}
	return rowsAffectedOrNotFound(result)
}

func rowsAffectedOrNotFound(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// GetTask fetches a task by id.
func (s *TaskStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.db.DB().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// DeleteTask removes a task by id.
func (s *TaskStore) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.DB().ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return rowsAffectedOrNotFound(result)
}

// ListTasks returns tasks matching filter, most recently created first.
func (s *TaskStore) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	var args []interface{}

	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		query += fmt.Sprintf(" AND project_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		task, err := scanTaskRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	return scanTaskRows(row)
}

func scanTaskRows(row rowScanner) (*models.Task, error) {
	var t models.Task
	var externalID sql.NullString
	var externalModifiedAt sql.NullTime
	var schedule sql.NullString
	var lockedAt sql.NullTime
	var options []byte

	err := row.Scan(&t.ID, &t.Name, &t.Kind, &t.Status, &t.ProjectID, &t.Retries,
		&externalID, &externalModifiedAt, &schedule, &t.StartAt, &options,
		&lockedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if externalID.Valid {
		t.ExternalID = &externalID.String
	}
	if externalModifiedAt.Valid {
		t.ExternalModifiedAt = &externalModifiedAt.Time
	}
	if schedule.Valid {
		t.Schedule = &schedule.String
	}
	if lockedAt.Valid {
		t.LockedAt = &lockedAt.Time
	}
	t.Options = options
	return &t, nil
}

// qualify prefixes each column in a comma-separated list with table, for use
// in an UPDATE ... RETURNING where the bare column list is ambiguous against
// the CTE's own output.
func qualify(columns, table string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = table + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
