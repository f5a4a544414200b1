package models

import (
	"encoding/json"
	"time"
)

// Project groups tasks under a case-insensitive Code that plugins use to
// address follow-up tasks (see plugin-result task{project_code}).
type Project struct {
	ID        string          `json:"id" db:"id"`
	Code      string          `json:"code" db:"code"`
	Name      string          `json:"name" db:"name"`
	OwnerID   string          `json:"ownerId" db:"owner_id"`
	Options   json.RawMessage `json:"options,omitempty" db:"options"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// CreateProjectRequest is the payload for POST /api/v1/projects.
type CreateProjectRequest struct {
	Code    string          `json:"code" binding:"required"`
	Name    string          `json:"name" binding:"required"`
	Options json.RawMessage `json:"options,omitempty"`
}

// UpdateProjectRequest carries only the fields to change.
type UpdateProjectRequest struct {
	Name    *string         `json:"name,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}
