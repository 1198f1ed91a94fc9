package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// ScheduleType decides when a schedule is due.
type ScheduleType int

const (
	// Startup schedules run once each time the scheduler starts.
	Startup ScheduleType = iota + 1
	// Timed schedules run once a day at TimeOfDay, optionally on one weekday.
	Timed
	// Interval schedules run every Interval.
	Interval
	// Manual schedules run only when triggered.
	Manual
)

func (t ScheduleType) String() string {
	switch t {
	case Startup:
		return "STARTUP"
	case Timed:
		return "TIMED"
	case Interval:
		return "INTERVAL"
	case Manual:
		return "MANUAL"
	default:
		return fmt.Sprintf("ScheduleType(%d)", int(t))
	}
}

// ParseScheduleType accepts the upper or lower case name of a type.
func ParseScheduleType(s string) (ScheduleType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STARTUP":
		return Startup, nil
	case "TIMED":
		return Timed, nil
	case "INTERVAL":
		return Interval, nil
	case "MANUAL":
		return Manual, nil
	}
	return 0, fmt.Errorf("%w: unknown schedule type %q", ErrInvalidSchedule, s)
}

// Schedule describes when to launch a process.
type Schedule struct {
	ID      string
	Name    string
	Process string
	Command []string
	Type    ScheduleType
	// Interval between starts of an Interval schedule.
	Interval time.Duration
	// TimeOfDay is the offset from midnight UTC of a Timed schedule.
	TimeOfDay time.Duration
	// Day restricts a Timed schedule to one ISO weekday, 1 (Monday) to 7.
	// Zero means every day.
	Day int
	// Exclusive schedules never have two tasks running at once.
	Exclusive bool
	Enabled   bool
}

func (s Schedule) validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	}
	if len(s.Command) == 0 || strings.TrimSpace(s.Command[0]) == "" {
		return fmt.Errorf("%w: schedule %s has no command", ErrInvalidSchedule, s.Name)
	}
	switch s.Type {
	case Startup, Manual:
	case Interval:
		if s.Interval <= 0 {
			return fmt.Errorf("%w: schedule %s needs a positive interval", ErrInvalidSchedule, s.Name)
		}
	case Timed:
		if s.TimeOfDay < 0 || s.TimeOfDay >= 24*time.Hour {
			return fmt.Errorf("%w: schedule %s time of day out of range", ErrInvalidSchedule, s.Name)
		}
		if s.Day < 0 || s.Day > 7 {
			return fmt.Errorf("%w: schedule %s day must be 0-7", ErrInvalidSchedule, s.Name)
		}
	default:
		return fmt.Errorf("%w: schedule %s has unknown type %d", ErrInvalidSchedule, s.Name, int(s.Type))
	}
	return nil
}

// TaskState tracks a launched process.
type TaskState int

const (
	TaskRunning TaskState = iota + 1
	TaskComplete
	TaskCanceled
	TaskInterrupted
)

func (s TaskState) String() string {
	switch s {
	case TaskRunning:
		return "running"
	case TaskComplete:
		return "complete"
	case TaskCanceled:
		return "canceled"
	case TaskInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Task is one run of a schedule.
type Task struct {
	ID           string
	ScheduleID   string
	ScheduleName string
	Process      string
	State        TaskState
	StartTime    time.Time
	EndTime      time.Time
	ExitCode     int
	Reason       string
}
