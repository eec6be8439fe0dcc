package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sumire/agentdesk/internal/domain"
)

const (
	// MaxAnswerWait bounds a single long-poll for an answer.
	MaxAnswerWait = 30 * time.Second

	answerPollInterval = 500 * time.Millisecond
)

// TaskFinder looks up tasks by id.
type TaskFinder interface {
	FindByID(ctx context.Context, id int64) (*domain.Task, error)
}

// StepStore defines the plan step data access consumed by ProgressService.
type StepStore interface {
	ListByTask(ctx context.Context, taskID int64) ([]domain.Step, error)
	ReplacePlan(ctx context.Context, taskID int64, descriptions []string) ([]domain.Step, error)
	Update(ctx context.Context, taskID int64, index int, status domain.StepStatus, note *string) (*domain.Step, error)
	Insert(ctx context.Context, taskID int64, description string, afterIndex int) (*domain.Step, error)
}

// QuestionStore defines the clarification data access consumed by ProgressService.
type QuestionStore interface {
	Create(ctx context.Context, taskID int64, question string, choices []string) (*domain.Question, error)
	Latest(ctx context.Context, taskID int64) (*domain.Question, error)
	Pending(ctx context.Context, taskID int64) (*domain.Question, error)
	Answer(ctx context.Context, taskID int64, answer string) (*domain.Question, error)
	ListAwaiting(ctx context.Context) ([]domain.AwaitingInput, error)
}

// ProgressService owns the progress ledger and the clarification channel.
type ProgressService struct {
	tasks     TaskFinder
	steps     StepStore
	questions QuestionStore
	logger    *slog.Logger

	locks    *taskLocks
	notifier *answerNotifier
	interval time.Duration
}

// NewProgressService creates a new ProgressService.
func NewProgressService(tasks TaskFinder, steps StepStore, questions QuestionStore, logger *slog.Logger) *ProgressService {
	return &ProgressService{
		tasks:     tasks,
		steps:     steps,
		questions: questions,
		logger:    logger,
		locks:     newTaskLocks(),
		notifier:  newAnswerNotifier(),
		interval:  answerPollInterval,
	}
}

// CreatePlan replaces the task's plan with descriptions, all pending.
func (s *ProgressService) CreatePlan(ctx context.Context, taskID int64, descriptions []string) ([]domain.Step, error) {
	if len(descriptions) == 0 {
		return nil, &domain.ValidationError{Field: "steps", Message: "must contain at least one step"}
	}
	cleaned := make([]string, len(descriptions))
	for i, d := range descriptions {
		cleaned[i] = strings.TrimSpace(d)
		if cleaned[i] == "" {
			return nil, &domain.ValidationError{Field: "steps", Message: fmt.Sprintf("step %d is blank", i)}
		}
	}

	unlock := s.locks.lock(taskID)
	defer unlock()

	steps, err := s.steps.ReplacePlan(ctx, taskID, cleaned)
	if err != nil {
		return nil, err
	}
	s.logger.Info("plan created", "task_id", taskID, "steps", len(steps))
	return steps, nil
}

// UpdateStep sets the status of one step, optionally with a note.
func (s *ProgressService) UpdateStep(ctx context.Context, taskID int64, index int, status domain.StepStatus, note *string) (*domain.Step, error) {
	if !status.Valid() {
		return nil, &domain.ValidationError{
			Field:   "status",
			Message: "must be one of pending, in_progress, done, failed, skipped",
		}
	}
	if index < 0 {
		return nil, &domain.ValidationError{Field: "index", Message: "must not be negative"}
	}

	unlock := s.locks.lock(taskID)
	defer unlock()

	step, err := s.steps.Update(ctx, taskID, index, status, note)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("step updated", "task_id", taskID, "index", index, "status", status)
	return step, nil
}

// AddStep inserts a step after afterIndex; -1 inserts at the front.
func (s *ProgressService) AddStep(ctx context.Context, taskID int64, description string, afterIndex int) (*domain.Step, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, &domain.ValidationError{Field: "description", Message: "is required"}
	}

	unlock := s.locks.lock(taskID)
	defer unlock()

	step, err := s.steps.Insert(ctx, taskID, description, afterIndex)
	if err != nil {
		return nil, err
	}
	s.logger.Info("step added", "task_id", taskID, "index", step.Index)
	return step, nil
}

// GetSteps returns the plan in index order. A task without a plan yields an
// empty list; a missing task is domain.ErrNotFound.
func (s *ProgressService) GetSteps(ctx context.Context, taskID int64) ([]domain.Step, error) {
	if _, err := s.tasks.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	return s.steps.ListByTask(ctx, taskID)
}

// GetProgress returns the plan and the pending question.
func (s *ProgressService) GetProgress(ctx context.Context, taskID int64) (*domain.Progress, error) {
	steps, err := s.GetSteps(ctx, taskID)
	if err != nil {
		return nil, err
	}
	q, err := s.GetPendingQuestion(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return &domain.Progress{TaskID: taskID, Steps: steps, CurrentQuestion: q}, nil
}

// Ask opens a question on the task. Choices, when given, must all be
// non-blank. Only one question may be open per task.
func (s *ProgressService) Ask(ctx context.Context, taskID int64, question string, choices []string) (*domain.Question, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &domain.ValidationError{Field: "question", Message: "is required"}
	}
	if choices != nil {
		if len(choices) == 0 {
			return nil, &domain.ValidationError{Field: "choices", Message: "must not be empty when given"}
		}
		for i, c := range choices {
			choices[i] = strings.TrimSpace(c)
			if choices[i] == "" {
				return nil, &domain.ValidationError{Field: "choices", Message: fmt.Sprintf("choice %d is blank", i)}
			}
		}
	}

	unlock := s.locks.lock(taskID)
	defer unlock()

	q, err := s.questions.Create(ctx, taskID, question, choices)
	if err != nil {
		return nil, err
	}
	s.logger.Info("question asked", "task_id", taskID, "question_id", q.ID)
	return q, nil
}

// GetPendingQuestion returns the open question, or nil if there is none.
func (s *ProgressService) GetPendingQuestion(ctx context.Context, taskID int64) (*domain.Question, error) {
	q, err := s.questions.Pending(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Answer answers the task's open question and wakes any waiters.
func (s *ProgressService) Answer(ctx context.Context, taskID int64, answer string) (*domain.Question, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, &domain.ValidationError{Field: "answer", Message: "is required"}
	}

	q, err := s.questions.Answer(ctx, taskID, answer)
	if err != nil {
		return nil, err
	}
	s.logger.Info("question answered", "task_id", taskID, "question_id", q.ID)
	s.notifier.publish(taskID)
	return q, nil
}

// WaitForAnswer blocks until the task's latest question is answered, the
// timeout elapses, or ctx is done. The timeout is clamped to
// [0, MaxAnswerWait]. An already answered question returns at once, as does
// a task that never asked anything.
func (s *ProgressService) WaitForAnswer(ctx context.Context, taskID int64, timeout time.Duration) (*domain.AnswerResult, error) {
	if _, err := s.tasks.FindByID(ctx, taskID); err != nil {
		return nil, err
	}
	timeout = min(max(timeout, 0), MaxAnswerWait)

	wake, cancel := s.notifier.subscribe(taskID)
	defer cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		result, done, err := s.checkAnswer(ctx, taskID)
		if err != nil || done {
			return result, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			result, _, err := s.checkAnswer(ctx, taskID)
			return result, err
		case <-wake:
		case <-ticker.C:
		}
	}
}

func (s *ProgressService) checkAnswer(ctx context.Context, taskID int64) (*domain.AnswerResult, bool, error) {
	q, err := s.questions.Latest(ctx, taskID)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.AnswerResult{Answered: false, Message: "no pending question"}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !q.Pending() {
		return &domain.AnswerResult{Answered: true, Answer: q.Answer, Question: q}, true, nil
	}
	return &domain.AnswerResult{Answered: false, Question: q, Message: "still waiting for an answer"}, false, nil
}

// ListAwaitingInput returns every task with an open question.
func (s *ProgressService) ListAwaitingInput(ctx context.Context) ([]domain.AwaitingInput, error) {
	return s.questions.ListAwaiting(ctx)
}
