package models

import (
	"encoding/json"
	"time"
)

// Task statuses. status ∈ {new, retried} is eligible for lease; in_progress
// means a worker currently holds the lease; finished/failed are terminal
// for non-recurring tasks.
const (
	StatusNew        = "new"
	StatusInProgress = "in_progress"
	StatusFailed     = "failed"
	StatusFinished   = "finished"
	StatusRetried    = "retried"
)

// Task is the central entity scheduled and leased by the engine. Kind
// names the plugin that processes it. Mutated only by the scheduler
// (lease, status, retries, locked_at) after creation.
type Task struct {
	ID                  string          `json:"id" db:"id"`
	Name                string          `json:"name" db:"name"`
	Kind                string          `json:"type" db:"type"`
	ProjectID           string          `json:"projectId" db:"project_id"`
	Status              string          `json:"status" db:"status"`
	Retries             int             `json:"retries" db:"retries"`
	ExternalID          *string         `json:"externalId,omitempty" db:"external_id"`
	ExternalModifiedAt  *time.Time      `json:"externalModifiedAt,omitempty" db:"external_modified_at"`
	Schedule            *string         `json:"schedule,omitempty" db:"schedule"`
	StartAt             int64           `json:"startAt" db:"start_at"`
	Options             json.RawMessage `json:"options" db:"options"`
	LockedAt            *time.Time      `json:"lockedAt,omitempty" db:"locked_at"`
	CreatedAt           time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time       `json:"updatedAt" db:"updated_at"`
}

// TaskSpec is the input to Store.UpsertTask: everything needed to insert a
// new task, or to replace the mutable fields of an existing external-id row.
type TaskSpec struct {
	Name               string
	Kind               string
	ProjectID          string
	ExternalID         *string
	ExternalModifiedAt *time.Time
	Schedule           *string
	StartAt            int64
	Options            json.RawMessage
}

// TaskFilter narrows ListTasks. Zero-value fields are ignored.
type TaskFilter struct {
	ProjectID string
	Status    string
	Kind      string
	Limit     int
	Offset    int
}

// CreateTaskRequest is the payload for POST /api/v1/tasks.
type CreateTaskRequest struct {
	Name      string          `json:"name" binding:"required"`
	Kind      string          `json:"type" binding:"required"`
	ProjectID string          `json:"projectId" binding:"required"`
	Schedule  *string         `json:"schedule,omitempty"`
	StartAt   int64           `json:"startAt"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// ProcessEnvelope is the JSON object delivered to a plugin's process export.
type ProcessEnvelope struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Project    string          `json:"project"`
	Options    json.RawMessage `json:"options"`
	ExternalID *string         `json:"external_id,omitempty"`
}
