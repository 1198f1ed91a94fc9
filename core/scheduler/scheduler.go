// Package scheduler launches processes on startup, at a time of day, on an
// interval or on demand, and records every run as a task. Its limits live in
// the SCHEDULER configuration category.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cordum/edgeconf/core/configmgr"
	"github.com/cordum/edgeconf/core/configmgr/callback"
	"github.com/cordum/edgeconf/core/infra/bus"
	"github.com/cordum/edgeconf/core/infra/locks"
	"github.com/cordum/edgeconf/core/infra/logging"
	"github.com/cordum/edgeconf/core/infra/metrics"
	"github.com/cordum/edgeconf/core/storage"
	"github.com/google/uuid"
)

const (
	component = "scheduler"

	// Category holds the scheduler limits.
	Category             = "SCHEDULER"
	ItemMaxRunningTasks  = "max_running_tasks"
	ItemMaxCompletedDays = "max_completed_task_age_days"

	defaultMaxRunning    = 15
	defaultMaxAgeDays    = 30
	defaultPollInterval  = 10 * time.Second
	leaseResource        = "scheduler"
	triggerQueue         = "edgeconf-scheduler"
	storeOpTimeout       = 5 * time.Second
	timedScheduleMinimum = time.Minute
)

// Categories is the part of the configuration manager the scheduler uses.
type Categories interface {
	CreateCategory(ctx context.Context, name string, value any, description string, opts ...configmgr.CreateOption) error
	GetCategoryItemValueEntry(ctx context.Context, name, item string) (string, bool, error)
	RegisterInterest(category, subscriber string, h callback.NotificationHandler) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLocks makes the scheduler act only while it holds the shared lease.
func WithLocks(store locks.Store, owner string) Option {
	return func(s *Scheduler) {
		s.locks = store
		if owner != "" {
			s.owner = owner
		}
	}
}

// WithBus listens for manual triggers on bus.SubjectScheduleRun.
func WithBus(sub bus.Subscriber) Option {
	return func(s *Scheduler) { s.bus = sub }
}

// WithMetrics records task activity.
func WithMetrics(m metrics.SchedulerMetrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithPollInterval sets how often due schedules are looked for.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// Scheduler starts due schedules and keeps the task history trimmed.
type Scheduler struct {
	store   scheduleStore
	config  Categories
	runner  Runner
	locks   locks.Store
	bus     bus.Subscriber
	metrics metrics.SchedulerMetrics
	owner   string
	poll    time.Duration
	now     func() time.Time

	mu         sync.Mutex
	maxRunning int
	maxAge     time.Duration
	running    map[string]Task
	lastStart  map[string]time.Time
	leader     bool
	runCtx     context.Context
	wg         sync.WaitGroup
}

// New builds a scheduler persisting through db and launching through runner.
func New(db storage.Storage, config Categories, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      scheduleStore{db: db},
		config:     config,
		runner:     runner,
		metrics:    metrics.Noop{},
		owner:      uuid.NewString(),
		poll:       defaultPollInterval,
		now:        func() time.Time { return time.Now().UTC() },
		maxRunning: defaultMaxRunning,
		maxAge:     defaultMaxAgeDays * 24 * time.Hour,
		running:    map[string]Task{},
		lastStart:  map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func schedulerCategory() map[string]any {
	return map[string]any{
		ItemMaxRunningTasks: map[string]any{
			"type":        "integer",
			"description": "Maximum number of tasks that can be running at any given time",
			"default":     strconv.Itoa(defaultMaxRunning),
			"minimum":     "1",
			"displayName": "Max Running Tasks",
			"order":       "1",
		},
		ItemMaxCompletedDays: map[string]any{
			"type":        "integer",
			"description": "Maximum age in days (based on the start time) for a rows in the tasks table that do not have a status of running",
			"default":     strconv.Itoa(defaultMaxAgeDays),
			"minimum":     "1",
			"displayName": "Max Age Of Task (In days)",
			"order":       "2",
		},
	}
}

// Start creates the SCHEDULER category, reads the limits and subscribes to
// later edits and manual triggers.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.config.CreateCategory(ctx, Category, schedulerCategory(), "Scheduler configuration", configmgr.WithDisplayName("Scheduler")); err != nil {
		return fmt.Errorf("create %s category: %w", Category, err)
	}
	if err := s.readConfig(ctx); err != nil {
		return err
	}
	if err := s.config.RegisterInterest(Category, component, callback.NotificationFunc(func(ctx context.Context, _ string) error {
		return s.readConfig(ctx)
	})); err != nil {
		return fmt.Errorf("register interest: %w", err)
	}
	if s.bus != nil {
		if err := s.bus.Subscribe(bus.SubjectScheduleRun, triggerQueue, s.handleTrigger); err != nil {
			return fmt.Errorf("subscribe %s: %w", bus.SubjectScheduleRun, err)
		}
	}
	return nil
}

func (s *Scheduler) readConfig(ctx context.Context) error {
	maxRunning, err := s.intItem(ctx, ItemMaxRunningTasks, defaultMaxRunning)
	if err != nil {
		return err
	}
	maxDays, err := s.intItem(ctx, ItemMaxCompletedDays, defaultMaxAgeDays)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.maxRunning = maxRunning
	s.maxAge = time.Duration(maxDays) * 24 * time.Hour
	s.mu.Unlock()
	logging.Info(component, "configuration read", "max_running_tasks", maxRunning, "max_completed_task_age_days", maxDays)
	return nil
}

func (s *Scheduler) intItem(ctx context.Context, item string, def int) (int, error) {
	raw, ok, err := s.config.GetCategoryItemValueEntry(ctx, Category, item)
	if err != nil {
		return 0, fmt.Errorf("read %s.%s: %w", Category, item, err)
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		logging.Warn(component, "invalid configuration value, using default", "item", item, "value", raw, "default", def)
		return def, nil
	}
	return n, nil
}

// Limits returns the current max_running_tasks and completed task
// retention.
func (s *Scheduler) Limits() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRunning, s.maxAge
}

// Run polls for due schedules until ctx is done, then waits for running
// tasks to finish and gives up the lease.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.release()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one poll: it starts due schedules and purges old tasks.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.lead(ctx) {
		return
	}
	now := s.now()
	schedules, err := s.store.schedules(ctx)
	if err != nil {
		logging.Error(component, "load schedules", "error", err)
		return
	}
	for _, sched := range schedules {
		if !sched.Enabled || !s.due(sched, now) {
			continue
		}
		if _, err := s.start(ctx, sched); err != nil {
			if errors.Is(err, ErrTooManyTasks) {
				logging.Warn(component, "max running tasks reached", "schedule", sched.Name)
				break
			}
			if !errors.Is(err, ErrScheduleBusy) {
				logging.Error(component, "start schedule", "schedule", sched.Name, "error", err)
			}
		}
	}
	s.purge(ctx, now)
}

// lead reports whether this instance may act, taking or renewing the lease
// when locks are configured. On first becoming leader, tasks left running
// by a previous holder are marked interrupted.
func (s *Scheduler) lead(ctx context.Context) bool {
	if s.locks == nil {
		s.mu.Lock()
		first := !s.leader
		s.leader = true
		s.mu.Unlock()
		if first {
			s.recover(ctx)
		}
		return true
	}
	ok, err := s.locks.Acquire(ctx, leaseResource, s.owner, 3*s.poll)
	if err != nil {
		logging.Error(component, "acquire lease", "owner", s.owner, "error", err)
		ok = false
	}
	s.mu.Lock()
	first := ok && !s.leader
	if !ok && s.leader {
		logging.Warn(component, "lost scheduler lease", "owner", s.owner)
	}
	s.leader = ok
	s.mu.Unlock()
	if first {
		logging.Info(component, "became active scheduler", "owner", s.owner)
		s.recover(ctx)
	}
	return ok
}

func (s *Scheduler) recover(ctx context.Context) {
	s.mu.Lock()
	busy := len(s.running) > 0
	s.mu.Unlock()
	if busy {
		return
	}
	n, err := s.store.interruptRunning(ctx, s.now())
	if err != nil {
		logging.Error(component, "recover tasks", "error", err)
		return
	}
	if n > 0 {
		logging.Warn(component, "marked stale tasks interrupted", "count", n)
	}
}

func (s *Scheduler) release() {
	if s.locks == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	if _, err := s.locks.Release(ctx, leaseResource, s.owner); err != nil {
		logging.Warn(component, "release lease", "owner", s.owner, "error", err)
	}
}

// due reports whether sched should start at now.
func (s *Scheduler) due(sched Schedule, now time.Time) bool {
	s.mu.Lock()
	last, started := s.lastStart[sched.ID]
	s.mu.Unlock()

	switch sched.Type {
	case Startup:
		return !started
	case Interval:
		return !started || now.Sub(last) >= sched.Interval
	case Timed:
		if sched.Day != 0 && isoWeekday(now) != sched.Day {
			return false
		}
		at := now.Truncate(24 * time.Hour).Add(sched.TimeOfDay)
		if now.Before(at) || (started && !last.Before(at)) {
			return false
		}
		grace := 2 * s.poll
		if grace < timedScheduleMinimum {
			grace = timedScheduleMinimum
		}
		return now.Sub(at) < grace
	default:
		return false
	}
}

func isoWeekday(t time.Time) int {
	if d := int(t.Weekday()); d != 0 {
		return d
	}
	return 7
}

// RunNow starts the schedule named or identified by ref immediately.
func (s *Scheduler) RunNow(ctx context.Context, ref string) (*Task, error) {
	s.mu.Lock()
	leader := s.leader
	s.mu.Unlock()
	if s.locks != nil && !leader {
		return nil, ErrNotLeader
	}
	sched, err := s.store.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !sched.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrScheduleDisabled, sched.Name)
	}
	return s.start(ctx, *sched)
}

func (s *Scheduler) handleTrigger(ev *bus.Event) error {
	ref, _ := ev.Data["schedule"].(string)
	if ref == "" {
		return fmt.Errorf("trigger %s carries no schedule", ev.ID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	task, err := s.RunNow(ctx, ref)
	switch {
	case errors.Is(err, ErrNotLeader), errors.Is(err, ErrTooManyTasks):
		return bus.RetryAfter(err, s.poll)
	case err != nil:
		logging.Warn(component, "manual trigger refused", "schedule", ref, "error", err)
		return nil
	}
	logging.Info(component, "manual trigger", "schedule", ref, "task_id", task.ID)
	return nil
}

// start records a task for sched and launches its process.
func (s *Scheduler) start(ctx context.Context, sched Schedule) (*Task, error) {
	now := s.now()
	s.mu.Lock()
	if len(s.running) >= s.maxRunning {
		s.mu.Unlock()
		return nil, ErrTooManyTasks
	}
	if sched.Exclusive {
		for _, t := range s.running {
			if t.ScheduleID == sched.ID {
				s.mu.Unlock()
				return nil, fmt.Errorf("%w: %s", ErrScheduleBusy, sched.Name)
			}
		}
	}
	task := Task{
		ID:           uuid.NewString(),
		ScheduleID:   sched.ID,
		ScheduleName: sched.Name,
		Process:      sched.Process,
		State:        TaskRunning,
		StartTime:    now,
	}
	s.running[task.ID] = task
	s.lastStart[sched.ID] = now
	running := len(s.running)
	runCtx := s.runCtx
	s.mu.Unlock()
	if runCtx == nil {
		runCtx = context.WithoutCancel(ctx)
	}

	if err := s.store.insertTask(ctx, task); err != nil {
		s.mu.Lock()
		delete(s.running, task.ID)
		s.mu.Unlock()
		return nil, err
	}
	s.metrics.IncTasksStarted(sched.Name)
	s.metrics.SetRunningTasks(running)
	logging.Info(component, "task started", "schedule", sched.Name, "task_id", task.ID, "process", sched.Process)

	s.wg.Add(1)
	go s.execute(runCtx, task, sched.Command)
	return &task, nil
}

func (s *Scheduler) execute(ctx context.Context, task Task, command []string) {
	defer s.wg.Done()

	code, err := s.runner.Run(ctx, task, command)
	task.EndTime = s.now()
	task.ExitCode = code
	switch {
	case ctx.Err() != nil:
		task.State = TaskCanceled
		task.Reason = "scheduler stopped"
	case err != nil:
		task.State = TaskInterrupted
		task.Reason = err.Error()
	default:
		task.State = TaskComplete
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeOpTimeout)
	defer cancel()
	if err := s.store.finishTask(storeCtx, task); err != nil {
		logging.Error(component, "record task end", "task_id", task.ID, "error", err)
	}

	s.mu.Lock()
	delete(s.running, task.ID)
	running := len(s.running)
	s.mu.Unlock()
	s.metrics.IncTasksCompleted(task.ScheduleName, task.State.String())
	s.metrics.SetRunningTasks(running)
	logging.Info(component, "task ended", "schedule", task.ScheduleName, "task_id", task.ID,
		"state", task.State.String(), "exit_code", task.ExitCode)
}

func (s *Scheduler) purge(ctx context.Context, now time.Time) {
	_, maxAge := s.Limits()
	n, err := s.store.purge(ctx, now.Add(-maxAge))
	if err != nil {
		logging.Error(component, "purge tasks", "error", err)
		return
	}
	if n > 0 {
		s.metrics.AddTasksPurged(n)
		logging.Info(component, "purged completed tasks", "count", n)
	}
}

// Wait blocks until every launched task has ended.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// SaveSchedule inserts sched when it has no ID and replaces it otherwise.
func (s *Scheduler) SaveSchedule(ctx context.Context, sched Schedule) (Schedule, error) {
	return s.store.save(ctx, sched)
}

// Schedules lists every schedule by name.
func (s *Scheduler) Schedules(ctx context.Context) ([]Schedule, error) {
	return s.store.schedules(ctx)
}

// Schedule returns the schedule identified or named by ref.
func (s *Scheduler) Schedule(ctx context.Context, ref string) (*Schedule, error) {
	return s.store.find(ctx, ref)
}

// EnableSchedule switches a schedule on or off.
func (s *Scheduler) EnableSchedule(ctx context.Context, ref string, enabled bool) error {
	sched, err := s.store.find(ctx, ref)
	if err != nil {
		return err
	}
	if sched.Enabled == enabled {
		return nil
	}
	sched.Enabled = enabled
	_, err = s.store.save(ctx, *sched)
	return err
}

// DeleteSchedule removes a schedule that has no running task.
func (s *Scheduler) DeleteSchedule(ctx context.Context, ref string) error {
	sched, err := s.store.find(ctx, ref)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, t := range s.running {
		if t.ScheduleID == sched.ID {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrScheduleBusy, sched.Name)
		}
	}
	delete(s.lastStart, sched.ID)
	s.mu.Unlock()
	return s.store.deleteSchedule(ctx, sched.ID)
}

// Tasks returns up to limit tasks, newest first.
func (s *Scheduler) Tasks(ctx context.Context, limit int) ([]Task, error) {
	return s.store.tasks(ctx, nil, limit)
}

// RunningTasks returns the tasks this instance is running, oldest first.
func (s *Scheduler) RunningTasks() []Task {
	s.mu.Lock()
	out := make([]Task, 0, len(s.running))
	for _, t := range s.running {
		out = append(out, t)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
