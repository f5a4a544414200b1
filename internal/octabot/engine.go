// Package octabot assembles the engine: the database, the plugin registry,
// the action dispatcher, and the scheduler control loop, wired together as
// an Engine that itself implements golly's lifecycle.Component so it can be
// started and stopped like any other component in the pack's idiom.
package octabot

import (
	"context"
	"fmt"
	"time"

	"oss.nandlabs.io/golly/lifecycle"

	"github.com/octahive/octabot/internal/actions"
	"github.com/octahive/octabot/internal/clock"
	"github.com/octahive/octabot/internal/db"
	"github.com/octahive/octabot/internal/events"
	"github.com/octahive/octabot/internal/logger"
	"github.com/octahive/octabot/internal/registry"
	"github.com/octahive/octabot/internal/scheduler"
	"github.com/octahive/octabot/internal/websocket"
)

// Config aggregates every component's configuration.
type Config struct {
	Database        db.Config
	Registry        registry.Config
	Scheduler       scheduler.Config
	Events          events.Config
	WebhookTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Engine implements lifecycle.Component by embedding a SimpleComponent
// whose StartFunc/StopFunc drive an internal ComponentManager holding one
// sub-component per engine stage: Task Store, Plugin Registry, Action
// Dispatcher, Scheduler, started and stopped in that order.
type Engine struct {
	*lifecycle.SimpleComponent

	manager lifecycle.ComponentManager
	hub     *websocket.Hub

	database  *db.Database
	registry  *registry.Registry
	publisher *events.Publisher
	scheduler *scheduler.Scheduler

	shutdownTimeout time.Duration
	cancelScheduler context.CancelFunc
	schedulerDone   chan struct{}
}

// New wires every stage and registers it with an internal component
// manager in boot order, but starts nothing yet; call Start (or Run) to
// boot the engine.
//
// Stages are registered task-store, plugin-registry, action-dispatcher,
// scheduler. StartAll iterates registrations in that order, so each stage
// is already Running by the time a later stage's StartFunc depends on it -
// the same ordering AddDependency would give, without requiring the
// concrete *SimpleComponentManager type the ComponentManager interface
// this package programs against doesn't expose.
func New(cfg Config) *Engine {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}

	e := &Engine{
		manager:         lifecycle.NewSimpleComponentManager(),
		hub:             websocket.NewHub(),
		shutdownTimeout: cfg.ShutdownTimeout,
	}

	taskStore := &lifecycle.SimpleComponent{
		CompId: "task-store",
		StartFunc: func() error {
			database, err := db.NewDatabase(cfg.Database)
			if err != nil {
				return fmt.Errorf("octabot: open database: %w", err)
			}
			if err := database.Migrate(); err != nil {
				database.Close()
				return fmt.Errorf("octabot: migrate schema: %w", err)
			}
			e.database = database
			return nil
		},
		StopFunc: func() error {
			if e.database == nil {
				return nil
			}
			return e.database.Close()
		},
	}

	pluginRegistry := &lifecycle.SimpleComponent{
		CompId: "plugin-registry",
		StartFunc: func() error {
			reg, err := registry.Load(context.Background(), cfg.Registry)
			if err != nil {
				return fmt.Errorf("octabot: load plugin registry: %w", err)
			}
			e.registry = reg
			return nil
		},
		StopFunc: func() error {
			if e.registry == nil {
				return nil
			}
			return e.registry.Close()
		},
	}

	// The dispatcher stage has no database or network resource of its own
	// to open, but it does own the websocket hub's broadcast loop: the
	// chat.message handler wired in the scheduler stage needs Run already
	// going before any action can reach a subscriber.
	dispatcher := &lifecycle.SimpleComponent{
		CompId: "action-dispatcher",
		StartFunc: func() error {
			go e.hub.Run()
			return nil
		},
		StopFunc: func() error { return nil },
	}

	sched := &lifecycle.SimpleComponent{
		CompId: "scheduler",
		StartFunc: func() error {
			publisher, err := events.NewPublisher(cfg.Events)
			if err != nil {
				return fmt.Errorf("octabot: start event publisher: %w", err)
			}
			e.publisher = publisher

			store := db.NewTaskStore(e.database)
			projects := db.NewProjectStore(e.database)
			dispatcher := actions.NewDispatcher(map[string]actions.Handler{
				"webhook.notify": actions.NewWebhookNotifyHandler(cfg.WebhookTimeout),
				"chat.message":   actions.NewChatMessageHandler(e.hub),
			})
			s, err := scheduler.New(cfg.Scheduler, store, projects, e.registry, dispatcher, clock.System{}, publisher)
			if err != nil {
				return fmt.Errorf("octabot: build scheduler: %w", err)
			}
			e.scheduler = s

			ctx, cancel := context.WithCancel(context.Background())
			e.cancelScheduler = cancel
			e.schedulerDone = make(chan struct{})
			go func() {
				defer close(e.schedulerDone)
				if err := s.Run(ctx); err != nil {
					logger.Scheduler().Error().Err(err).Msg("scheduler loop exited with error")
				}
			}()
			return nil
		},
		StopFunc: func() error {
			if e.cancelScheduler != nil {
				e.cancelScheduler()
				select {
				case <-e.schedulerDone:
				case <-time.After(e.shutdownTimeout):
					logger.Scheduler().Warn().
						Dur("timeout", e.shutdownTimeout).
						Msg("scheduler did not drain in-flight jobs before the shutdown deadline")
				}
			}
			if e.publisher != nil {
				return e.publisher.Close()
			}
			return nil
		},
	}

	e.manager.Register(taskStore)
	e.manager.Register(pluginRegistry)
	e.manager.Register(dispatcher)
	e.manager.Register(sched)

	e.SimpleComponent = &lifecycle.SimpleComponent{
		CompId: "octabot-engine",
		StartFunc: func() error {
			e.manager.StartAll()
			return nil
		},
		StopFunc: func() error {
			e.manager.StopAll()
			return nil
		},
	}

	return e
}

// Run starts the engine and blocks until ctx is cancelled or every stage
// has stopped on its own (golly's SimpleComponentManager installs a
// SIGINT/SIGTERM handler at construction that calls StopAll on the internal
// manager, which is what normally ends this wait).
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(); err != nil {
		return fmt.Errorf("octabot: start engine: %w", err)
	}

	done := make(chan struct{})
	go func() {
		e.manager.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		if err := e.Stop(); err != nil {
			return err
		}
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Hub exposes the shared websocket hub so the HTTP API layer can route its
// upgrade endpoint to the same broadcast loop the chat.message action
// handler publishes to. The scheduler's task events do not go through it.
func (e *Engine) Hub() *websocket.Hub { return e.hub }

// Database exposes the open database handle once the engine has started,
// so the HTTP API layer (C8) can build its own store handles over the same
// connection pool instead of opening a second one.
func (e *Engine) Database() *db.Database { return e.database }

// Wait blocks until every registered component has stopped, i.e. until a
// SIGINT/SIGTERM reaches the ComponentManager golly installed at
// construction, or until something else calls Stop. Callers that also run
// an HTTP server alongside the engine (cmd/octabot's serve command) use this
// instead of Run so both can shut down together.
func (e *Engine) Wait() { e.manager.Wait() }
