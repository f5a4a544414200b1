package models

import "encoding/json"

// PluginMetadata is what a plugin's load() export returns.
type PluginMetadata struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// PluginResult is one element of process()'s result list: either a side
// effect (action) or a follow-up task. Exactly one of Action/Task is set,
// mirroring the tagged union in the plugin ABI.
type PluginResult struct {
	Action *ActionResult `json:"action,omitempty"`
	Task   *TaskResult   `json:"task,omitempty"`
}

// ActionResult is a named side effect handed to the Action Dispatcher.
type ActionResult struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// TaskResult is a follow-up task emitted by a plugin, addressed by project
// code rather than project id since the plugin only knows the former.
type TaskResult struct {
	Name               string          `json:"name"`
	Kind               string          `json:"kind"`
	ProjectCode        string          `json:"project_code"`
	ExternalID         *string         `json:"external_id,omitempty"`
	ExternalModifiedAt *int64          `json:"external_modified_at,omitempty"`
	StartAt            int64           `json:"start_at"`
	Options            json.RawMessage `json:"options"`
}
