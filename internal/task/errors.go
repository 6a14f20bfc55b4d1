package task

import "errors"

// Errors returned by the task package.
var (
	ErrUnknownTask    = errors.New("task not registered")
	ErrDuplicateTask  = errors.New("task already registered")
	ErrInvalidTask    = errors.New("invalid task definition")
	ErrInvalidTaskID  = errors.New("invalid task ID")
	ErrResultNotFound = errors.New("task result not found")
	ErrNoResultValue  = errors.New("task result has no value")
	ErrNoMessage      = errors.New("no message available")
	ErrQueueClosed    = errors.New("task queue is closed")
	ErrQueueFull      = errors.New("task queue is full")
	ErrTaskPanicked   = errors.New("task panicked")
	ErrWorkerLost     = errors.New("worker lost while processing task")
	ErrTaskFailed     = errors.New("task failed")
)
