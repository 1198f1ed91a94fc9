package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cordum/edgeconf/core/storage"
	"github.com/google/uuid"
)

const (
	TableSchedules = "schedules"
	TableTasks     = "tasks"
)

// scheduleStore persists schedules and tasks through the table store.
type scheduleStore struct {
	db storage.Storage
}

func (s scheduleStore) schedules(ctx context.Context) ([]Schedule, error) {
	res, err := s.db.QueryWithPayload(ctx, TableSchedules, storage.Query{Sort: &storage.Sort{Column: "schedule_name"}})
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	out := make([]Schedule, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, scheduleFromRow(row))
	}
	return out, nil
}

// find looks a schedule up by id, then by name.
func (s scheduleStore) find(ctx context.Context, ref string) (*Schedule, error) {
	for _, col := range []string{"id", "schedule_name"} {
		res, err := s.db.QueryWithPayload(ctx, TableSchedules, storage.Query{Where: []storage.Condition{storage.Where(col, ref)}, Limit: 1})
		if err != nil {
			return nil, fmt.Errorf("query schedule %s: %w", ref, err)
		}
		if len(res.Rows) > 0 {
			sched := scheduleFromRow(res.Rows[0])
			return &sched, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, ref)
}

func (s scheduleStore) save(ctx context.Context, sched Schedule) (Schedule, error) {
	if err := sched.validate(); err != nil {
		return sched, err
	}
	if other, err := s.find(ctx, sched.Name); err == nil && other.ID != sched.ID {
		return sched, fmt.Errorf("%w: schedule name %s already used", ErrInvalidSchedule, sched.Name)
	} else if err != nil && !errors.Is(err, ErrScheduleNotFound) {
		return sched, err
	}
	if sched.ID == "" {
		sched.ID = uuid.NewString()
		if _, err := s.db.Insert(ctx, TableSchedules, scheduleRow(sched)); err != nil {
			return sched, fmt.Errorf("insert schedule %s: %w", sched.Name, err)
		}
		return sched, nil
	}
	values := scheduleRow(sched)
	delete(values, "id")
	resp, err := s.db.Update(ctx, TableSchedules, storage.UpdatePayload{Updates: []storage.Patch{{
		Values: values,
		Where:  []storage.Condition{storage.Where("id", sched.ID)},
	}}})
	if err != nil {
		return sched, fmt.Errorf("update schedule %s: %w", sched.Name, err)
	}
	if resp.Rows == 0 {
		return sched, fmt.Errorf("%w: %s", ErrScheduleNotFound, sched.ID)
	}
	return sched, nil
}

func (s scheduleStore) deleteSchedule(ctx context.Context, id string) error {
	resp, err := s.db.Delete(ctx, TableSchedules, storage.Filter{Where: []storage.Condition{storage.Where("id", id)}})
	if err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	if resp.Rows == 0 {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return nil
}

func (s scheduleStore) insertTask(ctx context.Context, t Task) error {
	if _, err := s.db.Insert(ctx, TableTasks, taskRow(t)); err != nil {
		return fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return nil
}

func (s scheduleStore) finishTask(ctx context.Context, t Task) error {
	_, err := s.db.Update(ctx, TableTasks, storage.UpdatePayload{Updates: []storage.Patch{{
		Values: map[string]any{
			"state":     int(t.State),
			"end_time":  t.EndTime.UnixMilli(),
			"exit_code": t.ExitCode,
			"reason":    t.Reason,
		},
		Where: []storage.Condition{storage.Where("id", t.ID)},
	}}})
	if err != nil {
		return fmt.Errorf("finish task %s: %w", t.ID, err)
	}
	return nil
}

// interruptRunning marks tasks left running by a previous instance.
func (s scheduleStore) interruptRunning(ctx context.Context, now time.Time) (int, error) {
	resp, err := s.db.Update(ctx, TableTasks, storage.UpdatePayload{Updates: []storage.Patch{{
		Values: map[string]any{
			"state":    int(TaskInterrupted),
			"end_time": now.UnixMilli(),
			"reason":   "scheduler restarted",
		},
		Where: []storage.Condition{storage.Where("state", int(TaskRunning))},
	}}})
	if err != nil {
		return 0, fmt.Errorf("interrupt running tasks: %w", err)
	}
	return resp.Rows, nil
}

// tasks returns tasks newest first; limit <= 0 returns all.
func (s scheduleStore) tasks(ctx context.Context, where []storage.Condition, limit int) ([]Task, error) {
	res, err := s.db.QueryWithPayload(ctx, TableTasks, storage.Query{
		Where: where,
		Sort:  &storage.Sort{Column: "start_time", Desc: true},
		Limit: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	out := make([]Task, 0, len(res.Rows))
	for _, row := range res.Rows {
		out = append(out, taskFromRow(row))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// purge deletes finished tasks that ended before cutoff.
func (s scheduleStore) purge(ctx context.Context, cutoff time.Time) (int, error) {
	resp, err := s.db.Delete(ctx, TableTasks, storage.Filter{Where: []storage.Condition{
		{Column: "state", Op: storage.OpNe, Value: int(TaskRunning)},
		{Column: "end_time", Op: storage.OpLt, Value: cutoff.UnixMilli()},
	}})
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return resp.Rows, nil
}

func scheduleRow(s Schedule) storage.Row {
	return storage.Row{
		"id":                s.ID,
		"schedule_name":     s.Name,
		"process_name":      s.Process,
		"command":           append([]string(nil), s.Command...),
		"schedule_type":     int(s.Type),
		"schedule_interval": s.Interval.Seconds(),
		"schedule_time":     s.TimeOfDay.Seconds(),
		"schedule_day":      s.Day,
		"exclusive":         s.Exclusive,
		"enabled":           s.Enabled,
	}
}

func scheduleFromRow(row storage.Row) Schedule {
	return Schedule{
		ID:        str(row["id"]),
		Name:      str(row["schedule_name"]),
		Process:   str(row["process_name"]),
		Command:   strs(row["command"]),
		Type:      ScheduleType(num(row["schedule_type"])),
		Interval:  time.Duration(num(row["schedule_interval"]) * float64(time.Second)),
		TimeOfDay: time.Duration(num(row["schedule_time"]) * float64(time.Second)),
		Day:       int(num(row["schedule_day"])),
		Exclusive: row["exclusive"] == true,
		Enabled:   row["enabled"] == true,
	}
}

func taskRow(t Task) storage.Row {
	row := storage.Row{
		"id":            t.ID,
		"schedule_id":   t.ScheduleID,
		"schedule_name": t.ScheduleName,
		"process_name":  t.Process,
		"state":         int(t.State),
		"start_time":    t.StartTime.UnixMilli(),
		"exit_code":     t.ExitCode,
		"reason":        t.Reason,
	}
	if !t.EndTime.IsZero() {
		row["end_time"] = t.EndTime.UnixMilli()
	}
	return row
}

func taskFromRow(row storage.Row) Task {
	t := Task{
		ID:           str(row["id"]),
		ScheduleID:   str(row["schedule_id"]),
		ScheduleName: str(row["schedule_name"]),
		Process:      str(row["process_name"]),
		State:        TaskState(num(row["state"])),
		StartTime:    time.UnixMilli(int64(num(row["start_time"]))).UTC(),
		ExitCode:     int(num(row["exit_code"])),
		Reason:       str(row["reason"]),
	}
	if end := num(row["end_time"]); end > 0 {
		t.EndTime = time.UnixMilli(int64(end)).UTC()
	}
	return t
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func strs(v any) []string {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
	case []any:
		out := make([]string, 0, len(list))
		for _, e := range list {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
