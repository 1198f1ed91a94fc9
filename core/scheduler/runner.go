package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/cordum/edgeconf/core/infra/logging"
)

// Runner launches the process of a task and waits for it to exit.
type Runner interface {
	Run(ctx context.Context, task Task, command []string) (exitCode int, err error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, task Task, command []string) (int, error)

func (f RunnerFunc) Run(ctx context.Context, task Task, command []string) (int, error) {
	return f(ctx, task, command)
}

// ExecRunner starts commands as OS processes. The process is killed when
// ctx is done.
type ExecRunner struct {
	// Dir is the working directory of launched processes.
	Dir string
	// Env is appended to the inherited environment.
	Env []string
}

func (r ExecRunner) Run(ctx context.Context, task Task, command []string) (int, error) {
	if len(command) == 0 {
		return -1, fmt.Errorf("task %s has no command", task.ID)
	}
	// #nosec G204 -- commands come from operator-managed schedules.
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	cmd.Env = append(cmd.Environ(), "EDGE_TASK_ID="+task.ID, "EDGE_SCHEDULE="+task.ScheduleName)
	logging.Debug(component, "launching process", "task_id", task.ID, "command", command[0])

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("run %s: %w", command[0], err)
	}
	return 0, nil
}
