package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoPendingQuestion = errors.New("no pending question")
	ErrQuestionPending   = errors.New("a question is already awaiting an answer")
	ErrAlreadyRunning    = errors.New("agent already running")
	ErrNotRunning        = errors.New("agent not running")
	ErrNoWorkDir         = errors.New("no working directory configured")
)

// ValidationError represents a field-level validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// ProcessError reports a failure to spawn or control an agent process.
type ProcessError struct {
	Op     string
	RepoID int64
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s agent for repository %d: %v", e.Op, e.RepoID, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ExternalSyncError reports a failed mirror of local state to GitHub.
// It is logged, never returned to API callers.
type ExternalSyncError struct {
	TaskID int64
	Err    error
}

func (e *ExternalSyncError) Error() string {
	return fmt.Sprintf("sync labels for task %d: %v", e.TaskID, e.Err)
}

func (e *ExternalSyncError) Unwrap() error { return e.Err }
