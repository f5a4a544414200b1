// Package events publishes task lifecycle events to NATS so external
// systems can observe the engine without polling the Task Store directly.
// Publishing is best-effort and optional: an unset URL disables it rather
// than failing boot, matching how the rest of the engine treats
// observability as a collaborator, never a dependency of correctness.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/octahive/octabot/internal/logger"
)

// Subjects task lifecycle events are published to.
const (
	SubjectTaskFinished = "octabot.tasks.finished"
	SubjectTaskFailed   = "octabot.tasks.failed"
	SubjectTaskRetried  = "octabot.tasks.retried"
)

// TaskEvent is the payload the scheduler publishes when it marks a task
// finished, failed or retried. The lease transition to in_progress is not
// published.
type TaskEvent struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	Kind      string    `json:"kind"`
	ProjectID string    `json:"project_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
}

// Config controls the NATS connection a Publisher opens.
type Config struct {
	URL string
}

// Publisher wraps a NATS connection. A Publisher built with an empty URL is
// disabled: every Publish call is then a no-op that returns nil.
type Publisher struct {
	conn    *nats.Conn
	enabled bool
}

// NewPublisher connects to cfg.URL. An empty URL or a failed connection
// yields a disabled Publisher rather than a boot-time error, since task
// event publishing is observability, not part of the engine's contract.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		logger.Scheduler().Info().Msg("NATS_URL not configured, task event publishing disabled")
		return &Publisher{}, nil
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name("octabot-scheduler"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Scheduler().Warn().Err(err).Msg("NATS publisher disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Scheduler().Info().Str("url", nc.ConnectedUrl()).Msg("NATS publisher reconnected")
		}),
	)
	if err != nil {
		logger.Scheduler().Warn().Err(err).Str("url", cfg.URL).Msg("NATS connect failed, task event publishing disabled")
		return &Publisher{}, nil
	}

	return &Publisher{conn: conn, enabled: true}, nil
}

// PublishTaskEvent sends event to subject. A disabled publisher is a no-op.
func (p *Publisher) PublishTaskEvent(subject string, event TaskEvent) {
	if p == nil || !p.enabled {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		logger.Scheduler().Warn().Err(err).Msg("encode task event failed")
		return
	}
	if err := p.conn.Publish(subject, data); err != nil {
		logger.Scheduler().Warn().Err(err).Str("subject", subject).Msg("publish task event failed")
	}
}

// Close drains and closes the underlying connection. A no-op if disabled.
func (p *Publisher) Close() error {
	if p == nil || !p.enabled {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("events: drain nats connection: %w", err)
	}
	return nil
}
