// Package scheduler implements the control loop (C6): a driver that leases
// ready tasks from the Task Store, runs each one against its plugin inside
// the Plugin Sandbox, and interprets the result as follow-up tasks, fired
// actions, recurrence, or retry/failure.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"oss.nandlabs.io/golly/pool"

	"github.com/octahive/octabot/internal/actions"
	"github.com/octahive/octabot/internal/clock"
	"github.com/octahive/octabot/internal/db"
	"github.com/octahive/octabot/internal/events"
	"github.com/octahive/octabot/internal/logger"
	"github.com/octahive/octabot/internal/models"
	"github.com/octahive/octabot/internal/registry"
)

// jobSlot is a weightless token: the job-slot pool exists only to bound how
// many run concurrently, so checking one out carries no state of its own.
type jobSlot struct{}

// Config holds the tunables §6 of the spec exposes as environment variables.
type Config struct {
	// TickInterval is how often the driver polls even without a wake signal.
	TickInterval time.Duration
	// PoolCapacity bounds the number of tasks running concurrently.
	PoolCapacity int
	// LeaseTTL is how long an acquired task's lock is honored before another
	// acquire_batch call is allowed to reclaim it.
	LeaseTTL time.Duration
	// MaxRetries is how many times a failing task is retried before it is
	// marked failed permanently.
	MaxRetries int
	// RetryBase and RetryCap parameterize the exponential backoff: the nth
	// retry waits min(RetryBase*2^n, RetryCap), plus up to ±10% jitter.
	RetryBase time.Duration
	RetryCap  time.Duration
}

// DefaultConfig fills in the defaults from spec §6.
func DefaultConfig() Config {
	return Config{
		TickInterval: time.Second,
		PoolCapacity: runtime.NumCPU(),
		LeaseTTL:     5 * time.Minute,
		MaxRetries:   3,
		RetryBase:    5 * time.Second,
		RetryCap:     time.Hour,
	}
}

// Scheduler is the control loop driver. Run it from the Lifecycle component
// in its own goroutine; it returns once ctx is cancelled and every in-flight
// job has drained.
type Scheduler struct {
	cfg      Config
	store    *db.TaskStore
	projects *db.ProjectStore
	plugins  registry.PluginHost
	actions  *actions.Dispatcher
	clock    clock.Clock
	events   *events.Publisher

	wake chan struct{}
	pool pool.Pool[*jobSlot]
	wg   sync.WaitGroup
}

// New builds a Scheduler. clk may be clock.System{} in production or a
// clock.Mock in tests. publisher may be nil; a nil *events.Publisher is a
// no-op, just like a disabled one.
//
// Concurrency is bounded by a golly job-slot pool sized to PoolCapacity
// rather than a hand-rolled semaphore channel, the same pattern
// internal/sandbox uses for its guest instance pool.
func New(cfg Config, store *db.TaskStore, projects *db.ProjectStore, plugins registry.PluginHost, dispatcher *actions.Dispatcher, clk clock.Clock, publisher *events.Publisher) (*Scheduler, error) {
	if cfg.PoolCapacity <= 0 {
		cfg.PoolCapacity = 1
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}

	maxWait := int(cfg.LeaseTTL.Seconds())
	if maxWait <= 0 {
		maxWait = 1
	}
	slots, err := pool.NewPool[*jobSlot](
		func() (*jobSlot, error) { return &jobSlot{}, nil },
		func(*jobSlot) error { return nil },
		0, cfg.PoolCapacity, maxWait,
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: build job slot pool: %w", err)
	}
	if err := slots.Start(); err != nil {
		return nil, fmt.Errorf("scheduler: start job slot pool: %w", err)
	}

	return &Scheduler{
		cfg:      cfg,
		store:    store,
		projects: projects,
		plugins:  plugins,
		actions:  dispatcher,
		clock:    clk,
		events:   publisher,
		wake:     make(chan struct{}, 1),
		pool:     slots,
	}, nil
}

// Wake requests an out-of-band poll as soon as the driver is next
// scheduled, without waiting for the next tick. Safe to call from any
// goroutine; never blocks.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled, then waits for every
// in-flight job to finish before returning. No new batch is acquired once
// ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if err := s.pool.Close(); err != nil {
				logWarn("close job slot pool", err)
			}
			return nil
		case <-ticker.C:
			s.poll(ctx)
		case <-s.wake:
			s.poll(ctx)
		}
	}
}

// poll acquires one batch sized to the pool's total capacity and submits
// each task as an independent job; submit's Checkout is what actually
// enforces that no more than PoolCapacity run at once. A batch that comes
// back empty is not an error; the loop simply waits for the next tick or
// wake.
func (s *Scheduler) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	batch, err := s.store.AcquireBatch(ctx, s.clock.Now(), s.cfg.LeaseTTL, s.cfg.PoolCapacity)
	if err != nil {
		logWarn("acquire batch failed", err)
		return
	}

	for _, t := range batch {
		s.submit(ctx, t)
	}
}

// submit runs one task's job on its own goroutine. The goroutine checks a
// slot out of the job-slot pool before running and checks it back in once
// the job is done, so PoolCapacity concurrent jobs is enforced by
// Checkout/Checkin rather than a counter guarding goroutine spawn.
func (s *Scheduler) submit(ctx context.Context, t *models.Task) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.Wake()

		slot, err := s.pool.Checkout()
		if err != nil {
			logWarn(fmt.Sprintf("task %s could not acquire a job slot", t.ID), err)
			return
		}
		defer s.pool.Checkin(slot)

		s.execute(ctx, t)
	}()
}

// execute runs one job: resolve the plugin, call process, and interpret the
// result. On cancellation mid-call the task is left in_progress exactly as
// §4.6 specifies - the next boot's acquire_batch reclaims it after
// LEASE_TTL, never by an explicit mark here.
func (s *Scheduler) execute(ctx context.Context, t *models.Task) {
	plugin, err := s.plugins.Get(t.Kind)
	if err != nil {
		s.finishFailed(ctx, t, err)
		return
	}

	envelope := models.ProcessEnvelope{
		ID:         t.ID,
		Name:       t.Name,
		Project:    t.ProjectID,
		Options:    t.Options,
		ExternalID: t.ExternalID,
	}

	results, err := plugin.Sandbox.Process(ctx, envelope)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.handleFailure(ctx, t, err)
		return
	}

	s.handleResults(ctx, t, results)
	s.finishSuccess(ctx, t)
}

// handleResults applies every plugin result as a best-effort side effect:
// a task{} result becomes a follow-up row, an action{} result is
// dispatched. Neither kind can fail the task that produced it.
func (s *Scheduler) handleResults(ctx context.Context, t *models.Task, results []models.PluginResult) {
	for _, r := range results {
		switch {
		case r.Task != nil:
			s.upsertFollowUp(ctx, *r.Task)
		case r.Action != nil:
			if err := s.actions.Dispatch(ctx, r.Action.Name, r.Action.Payload); err != nil {
				logWarn(fmt.Sprintf("action %q failed for task %s", r.Action.Name, t.ID), err)
			}
		}
	}
}

// upsertFollowUp resolves a TaskResult's project_code into a project_id and
// upserts it. An unresolvable project code is a warning, not a failure of
// the parent task.
func (s *Scheduler) upsertFollowUp(ctx context.Context, tr models.TaskResult) {
	project, err := s.projects.GetByCode(ctx, tr.ProjectCode)
	if err != nil {
		logWarn(fmt.Sprintf("follow-up task %q references unknown project code %q", tr.Name, tr.ProjectCode), err)
		return
	}

	spec := models.TaskSpec{
		Name:       tr.Name,
		Kind:       tr.Kind,
		ProjectID:  project.ID,
		ExternalID: tr.ExternalID,
		StartAt:    tr.StartAt,
		Options:    tr.Options,
	}
	if tr.ExternalModifiedAt != nil {
		t := time.Unix(*tr.ExternalModifiedAt, 0).UTC()
		spec.ExternalModifiedAt = &t
	}

	if _, err := s.store.UpsertTask(ctx, spec); err != nil {
		logWarn(fmt.Sprintf("upsert follow-up task %q failed", tr.Name), err)
	}
}

// finishSuccess marks t finished, inserting a fresh recurrence row first if
// t carries a schedule. The new row keeps the schedule so a recurring task
// keeps recurring rather than firing once more and going silent.
func (s *Scheduler) finishSuccess(ctx context.Context, t *models.Task) {
	if t.Schedule != nil {
		s.scheduleNext(ctx, t)
	}
	if err := s.store.MarkFinished(ctx, t.ID); err != nil {
		logWarn(fmt.Sprintf("mark task %s finished failed", t.ID), err)
		return
	}
	s.publish(events.SubjectTaskFinished, t, "")
}

func (s *Scheduler) scheduleNext(ctx context.Context, t *models.Task) {
	next, err := clock.NextFire(*t.Schedule, s.clock.Now().Unix())
	if err != nil {
		logWarn(fmt.Sprintf("task %s has an invalid schedule %q, recurrence stops", t.ID, *t.Schedule), err)
		return
	}

	spec := models.TaskSpec{
		Name:      t.Name,
		Kind:      t.Kind,
		ProjectID: t.ProjectID,
		Schedule:  t.Schedule,
		StartAt:   next,
		Options:   t.Options,
	}
	if _, err := s.store.UpsertTask(ctx, spec); err != nil {
		logWarn(fmt.Sprintf("schedule next occurrence of task %s failed", t.ID), err)
	}
}

// handleFailure applies the retry-or-fail decision of §4.6: retry with
// exponential backoff and jitter while under MaxRetries, otherwise fail
// permanently.
func (s *Scheduler) handleFailure(ctx context.Context, t *models.Task, cause error) {
	if t.Retries >= s.cfg.MaxRetries {
		s.finishFailed(ctx, t, cause)
		return
	}

	wait := backoff(t.Retries+1, s.cfg.RetryBase, s.cfg.RetryCap)
	nextStartAt := s.clock.Now().Add(wait).Unix()

	if err := s.store.MarkRetried(ctx, t.ID, nextStartAt); err != nil {
		logWarn(fmt.Sprintf("mark task %s retried failed", t.ID), err)
		return
	}
	s.publish(events.SubjectTaskRetried, t, cause.Error())
}

func (s *Scheduler) finishFailed(ctx context.Context, t *models.Task, cause error) {
	if err := s.store.MarkFailed(ctx, t.ID); err != nil {
		logWarn(fmt.Sprintf("mark task %s failed failed", t.ID), err)
		return
	}
	logWarn(fmt.Sprintf("task %s (%s) failed permanently", t.ID, t.Kind), cause)
	s.publish(events.SubjectTaskFailed, t, cause.Error())
}

func (s *Scheduler) publish(subject string, t *models.Task, message string) {
	// t is the leased row, still in_progress; report the status just written.
	status := t.Status
	switch subject {
	case events.SubjectTaskFinished:
		status = models.StatusFinished
	case events.SubjectTaskFailed:
		status = models.StatusFailed
	case events.SubjectTaskRetried:
		status = models.StatusRetried
	}
	s.events.PublishTaskEvent(subject, events.TaskEvent{
		EventID:   uuid.NewString(),
		Timestamp: s.clock.Now(),
		TaskID:    t.ID,
		Kind:      t.Kind,
		ProjectID: t.ProjectID,
		Status:    status,
		Message:   message,
	})
}

// backoff computes min(base*2^retries, cap) with up to ±10% jitter, per the
// formula in §4.6.
func backoff(retries int, base, capacity time.Duration) time.Duration {
	d := base
	for i := 0; i < retries; i++ {
		d *= 2
		if d > capacity {
			d = capacity
			break
		}
	}

	jitter := time.Duration((rand.Float64()*0.2 - 0.1) * float64(d))
	return d + jitter
}

func logWarn(msg string, err error) {
	logger.Scheduler().Warn().Err(err).Msg(msg)
}
