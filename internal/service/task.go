package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sumire/agentdesk/internal/domain"
)

// TaskStore defines the task data access interface consumed by TaskService.
type TaskStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Task, error)
	ListClaimable(ctx context.Context, repoID int64) ([]domain.Task, error)
	Claim(ctx context.Context, id int64) (*domain.Task, error)
	SetStatus(ctx context.Context, id int64, status domain.ClaimStatus, errMsg *string) (*domain.Task, error)
	Complete(ctx context.Context, id int64, summary string) (*domain.Task, error)
}

// LabelSyncer mirrors a task's claim status to its GitHub issue. Enqueue
// must not block; failures are the syncer's to log.
type LabelSyncer interface {
	Enqueue(taskID int64)
}

// TaskService runs the task claim state machine.
type TaskService struct {
	tasks  TaskStore
	labels LabelSyncer
	logger *slog.Logger
}

// NewTaskService creates a new TaskService.
func NewTaskService(tasks TaskStore, labels LabelSyncer, logger *slog.Logger) *TaskService {
	return &TaskService{tasks: tasks, labels: labels, logger: logger}
}

// ListClaimable returns the tasks of a repository that an agent may claim.
func (s *TaskService) ListClaimable(ctx context.Context, repoID int64) ([]domain.Task, error) {
	return s.tasks.ListClaimable(ctx, repoID)
}

// Claim assigns a pending task to the caller.
func (s *TaskService) Claim(ctx context.Context, taskID int64) (*domain.Task, error) {
	task, err := s.tasks.Claim(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task claimed", "task_id", taskID, "repository_id", task.RepositoryID)
	s.labels.Enqueue(taskID)
	return task, nil
}

// SetStatus moves a task forward in its claim lifecycle. A failure needs
// the error text that caused it.
func (s *TaskService) SetStatus(ctx context.Context, taskID int64, status domain.ClaimStatus, errMsg string) (*domain.Task, error) {
	switch status {
	case domain.ClaimStatusAssigned, domain.ClaimStatusInProgress, domain.ClaimStatusCompleted, domain.ClaimStatusFailed:
	default:
		return nil, &domain.ValidationError{
			Field:   "status",
			Message: "must be one of assigned, in_progress, completed, failed",
		}
	}

	var errPtr *string
	if status == domain.ClaimStatusFailed {
		errMsg = strings.TrimSpace(errMsg)
		if errMsg == "" {
			return nil, &domain.ValidationError{Field: "error", Message: "is required when status is failed"}
		}
		errPtr = &errMsg
	}

	task, err := s.tasks.SetStatus(ctx, taskID, status, errPtr)
	if err != nil {
		return nil, err
	}
	s.logger.Info("task status changed", "task_id", taskID, "claim_status", status)
	s.labels.Enqueue(taskID)
	return task, nil
}

// Complete marks a task completed and records the agent's summary on it.
func (s *TaskService) Complete(ctx context.Context, taskID int64, summary, prURL string) (*domain.Task, error) {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return nil, &domain.ValidationError{Field: "summary", Message: "is required"}
	}

	task, err := s.tasks.Complete(ctx, taskID, formatSummary(summary, strings.TrimSpace(prURL)))
	if err != nil {
		return nil, err
	}
	s.logger.Info("task completed", "task_id", taskID, "pr_url", prURL)
	s.labels.Enqueue(taskID)
	return task, nil
}

func formatSummary(summary, prURL string) string {
	var b strings.Builder
	b.WriteString("## Agent summary\n\n")
	b.WriteString(summary)
	if prURL != "" {
		fmt.Fprintf(&b, "\n\nPull request: %s", prURL)
	}
	return b.String()
}
