package scheduler

import "errors"

var (
	// ErrInvalidSchedule indicates a schedule definition was rejected.
	ErrInvalidSchedule = errors.New("invalid_schedule")
	// ErrScheduleNotFound indicates no schedule matches the given id or name.
	ErrScheduleNotFound = errors.New("schedule_not_found")
	// ErrScheduleDisabled indicates a trigger for a disabled schedule.
	ErrScheduleDisabled = errors.New("schedule_disabled")
	// ErrScheduleBusy indicates an exclusive schedule already has a running task.
	ErrScheduleBusy = errors.New("schedule_busy")
	// ErrTooManyTasks indicates max_running_tasks has been reached.
	ErrTooManyTasks = errors.New("too_many_tasks")
	// ErrNotLeader indicates another scheduler instance holds the lease.
	ErrNotLeader = errors.New("not_leader")
)
