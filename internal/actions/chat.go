package actions

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/octahive/octabot/internal/websocket"
)

// chatMessagePayload is the action{name: "chat.message"} payload shape: a
// project-scoped message broadcast to every live WebSocket subscriber.
type chatMessagePayload struct {
	ProjectID string `json:"project_id"`
	Text      string `json:"text"`
}

// NewChatMessageHandler returns the "chat.message" handler, which wraps the
// payload's text in a {"type": "chat.message", "text": ...} event and
// broadcasts it to every client subscribed to the given project.
func NewChatMessageHandler(hub *websocket.Hub) Handler {
	return func(_ context.Context, payload json.RawMessage) error {
		var msg chatMessagePayload
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("chat.message: parse payload: %w", err)
		}
		if msg.ProjectID == "" {
			return fmt.Errorf("chat.message: missing project_id")
		}

		event, err := json.Marshal(map[string]any{
			"type": "chat.message",
			"text": msg.Text,
		})
		if err != nil {
			return fmt.Errorf("chat.message: encode event: %w", err)
		}

		hub.BroadcastToProject(msg.ProjectID, event)
		return nil
	}
}
