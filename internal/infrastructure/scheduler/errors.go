package scheduler

import "errors"

var (
	// ErrSchedulerNotRunning is returned when stopping or triggering a scheduler that is not running
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrSchedulerAlreadyRunning is returned when starting a scheduler twice
	ErrSchedulerAlreadyRunning = errors.New("scheduler is already running")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrTickPanicked is returned by TriggerImmediate when the job panicked
	ErrTickPanicked = errors.New("scheduled job panicked")
)
