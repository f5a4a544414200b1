// Project storage: CRUD addressed by id or case-insensitive code.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/octahive/octabot/internal/models"
)

// ErrProjectNotFound is returned when a lookup by id or code matches no row.
var ErrProjectNotFound = errors.New("project not found")

// ProjectStore is the Postgres-backed Project store.
type ProjectStore struct {
	db *Database
}

// NewProjectStore builds a ProjectStore over an open Database.
func NewProjectStore(database *Database) *ProjectStore {
	return &ProjectStore{db: database}
}

// Create inserts a new project owned by ownerID.
func (s *ProjectStore) Create(ctx context.Context, req models.CreateProjectRequest, ownerID string) (*models.Project, error) {
	options := req.Options
	if options == nil {
		options = json.RawMessage(`{}`)
	}

	p := &models.Project{
		ID:      uuid.NewString(),
		Code:    req.Code,
		Name:    req.Name,
		OwnerID: ownerID,
		Options: options,
	}

	row := s.db.DB().QueryRowContext(ctx, `
		INSERT INTO projects (id, code, name, owner_id, options)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`, p.ID, p.Code, p.Name, p.OwnerID, []byte(options))

	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

// Get fetches a project by id.
func (s *ProjectStore) Get(ctx context.Context, id string) (*models.Project, error) {
	return s.scanOne(ctx, `SELECT id, code, name, owner_id, options, created_at, updated_at
		FROM projects WHERE id = $1`, id)
}

// GetByCode fetches a project by its case-insensitive code, used to resolve
// a plugin's task{project_code} into the project_id stored on the task row.
func (s *ProjectStore) GetByCode(ctx context.Context, code string) (*models.Project, error) {
	return s.scanOne(ctx, `SELECT id, code, name, owner_id, options, created_at, updated_at
		FROM projects WHERE LOWER(code) = LOWER($1)`, code)
}

func (s *ProjectStore) scanOne(ctx context.Context, query string, arg interface{}) (*models.Project, error) {
	var p models.Project
	var options []byte
	row := s.db.DB().QueryRowContext(ctx, query, arg)
	err := row.Scan(&p.ID, &p.Code, &p.Name, &p.OwnerID, &options, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	p.Options = options
	return &p, nil
}

// Update applies the non-nil fields of req.
func (s *ProjectStore) Update(ctx context.Context, id string, req models.UpdateProjectRequest) (*models.Project, error) {
	if req.Name != nil {
		if _, err := s.db.DB().ExecContext(ctx, `UPDATE projects SET name = $1 WHERE id = $2`, *req.Name, id); err != nil {
			return nil, fmt.Errorf("update name: %w", err)
		}
	}
	if req.Options != nil {
		if _, err := s.db.DB().ExecContext(ctx, `UPDATE projects SET options = $1 WHERE id = $2`, []byte(req.Options), id); err != nil {
			return nil, fmt.Errorf("update options: %w", err)
		}
	}
	return s.Get(ctx, id)
}

// Delete removes a project, cascading to its tasks.
func (s *ProjectStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.DB().ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n == 0 {
		return ErrProjectNotFound
	}
	return nil
}

// ListByOwner returns all projects owned by the given user.
func (s *ProjectStore) ListByOwner(ctx context.Context, ownerID string) ([]*models.Project, error) {
	rows, err := s.db.DB().QueryContext(ctx, `SELECT id, code, name, owner_id, options, created_at, updated_at
		FROM projects WHERE owner_id = $1 ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []*models.Project
	for rows.Next() {
		var p models.Project
		var options []byte
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.OwnerID, &options, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Options = options
		out = append(out, &p)
	}
	return out, rows.Err()
}
