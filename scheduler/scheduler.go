// Package scheduler implements the cron-driven job scheduler: a single
// worker goroutine that fires registered tasks at wall-clock times, isolates
// task failures from one another, and shuts down cooperatively.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"loomis/apierr"
	"loomis/logging"
)

// Task is one unit of scheduled work. Work is invoked with a context that is
// cancelled when Shutdown is called; long-running tasks should observe it
// during pacing sleeps, though the scheduler does not require that — it
// simply waits for Work to return.
type Task struct {
	Name     string
	CronExpr string
	Work     func(ctx context.Context) error
}

type scheduledTask struct {
	Task
	schedule   cron.Schedule
	nextFireAt time.Time
}

// parser accepts the six-field cron form: seconds, minutes, hours,
// day-of-month, month, day-of-week.
var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler runs registered Tasks on a single worker goroutine. Only one task
// body executes at a time, by design: synchronizer task bodies issue
// sequential upstream HTTP calls and dislike parallel writes against the
// same server.
type Scheduler struct {
	mu      sync.Mutex
	tasks   []*scheduledTask
	started bool

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	done     chan struct{}
}

// New creates an unstarted Scheduler.
func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Add registers a task. An invalid cron expression is logged and the task is
// rejected, but the scheduler itself is not affected. Calls after Start
// return false and are rejected.
func (s *Scheduler) Add(task Task) bool {
	log := logging.FromContext(context.Background())

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		log.Error().Str("task", task.Name).Msg("cron scheduler: attempted to add task after start")
		return false
	}

	schedule, err := parser.Parse(task.CronExpr)
	if err != nil {
		log.Error().Err(err).Str("task", task.Name).Str("cron", task.CronExpr).
			Msg("cron scheduler: bad cron expression, task not registered")
		return false
	}

	s.tasks = append(s.tasks, &scheduledTask{
		Task:       task,
		schedule:   schedule,
		nextFireAt: schedule.Next(time.Now()),
	})
	return true
}

// Start launches the worker goroutine. If no tasks were registered, it
// returns false without starting anything.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) == 0 {
		return false
	}
	if s.started {
		return true
	}
	s.started = true

	log := logging.FromContext(context.Background())
	for _, t := range s.tasks {
		log.Info().Str("task", t.Name).Str("cron", t.CronExpr).
			Time("next_run", t.nextFireAt).Msg("cron scheduler: task enabled")
	}

	go s.run()
	return true
}

// Shutdown signals the worker to stop, waits for it to exit, and waits for
// any currently-executing task body to return. Safe to call even if Start
// was never called or returned false.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	s.cancel()

	if !started {
		return
	}

	select {
	case <-s.shutdown:
		// already closed by a previous Shutdown call
	default:
		close(s.shutdown)
	}
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	log := logging.FromContext(context.Background())
	log.Info().Msg("cron scheduler: worker started")

	for {
		wakeAt := s.earliestWake()
		delay := time.Until(wakeAt)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)

		select {
		case <-s.shutdown:
			timer.Stop()
			log.Info().Msg("cron scheduler: worker shutting down")
			return
		case <-timer.C:
		}

		s.fireDue()
	}
}

func (s *Scheduler) earliestWake() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	wake := s.tasks[0].nextFireAt
	for _, t := range s.tasks[1:] {
		if t.nextFireAt.Before(wake) {
			wake = t.nextFireAt
		}
	}
	return wake
}

// fireDue invokes every task whose nextFireAt has elapsed, in registration
// order, then recomputes each one's nextFireAt. Tasks sharing a fire time are
// dispatched in registration order within the same wake; nothing depends on
// that order for correctness.
func (s *Scheduler) fireDue() {
	now := time.Now()

	s.mu.Lock()
	var due []*scheduledTask
	for _, t := range s.tasks {
		if !t.nextFireAt.After(now) {
			due = append(due, t)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		select {
		case <-s.shutdown:
			return
		default:
		}
		s.execute(t)

		s.mu.Lock()
		t.nextFireAt = t.schedule.Next(time.Now())
		s.mu.Unlock()
	}
}

func (s *Scheduler) execute(t *scheduledTask) {
	cycleCtx, log := logging.WithCycleID(s.ctx, t.Name)
	log.Debug().Msg("cron scheduler: executing task")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("cron scheduler: task panicked")
		}
	}()

	if err := t.Work(cycleCtx); err != nil {
		if apierr.IsRetryableThisCycle(err) {
			log.Warn().Err(err).Msg("cron scheduler: task failed this cycle, will retry next schedule")
		} else {
			log.Error().Err(err).Msg("cron scheduler: task failed with a non-retryable error")
		}
	}
}
