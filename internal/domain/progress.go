package domain

import "time"

// StepStatus is the state of one declared plan step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusDone       StepStatus = "done"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

// IsTerminal reports whether s ends the step.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusDone || s == StepStatusFailed || s == StepStatusSkipped
}

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusInProgress, StepStatusDone, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// Step is one entry of a task's execution plan. Indices are dense per task.
type Step struct {
	ID          int64      `json:"id" db:"id"`
	TaskID      int64      `json:"task_id" db:"task_id"`
	Index       int        `json:"index" db:"step_index"`
	Description string     `json:"description" db:"description"`
	Status      StepStatus `json:"status" db:"status"`
	Note        *string    `json:"note,omitempty" db:"note"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Question is a clarification an agent asked about a task.
type Question struct {
	ID         int64      `json:"id"`
	TaskID     int64      `json:"task_id"`
	Question   string     `json:"question"`
	Choices    []string   `json:"choices,omitempty"`
	Answer     *string    `json:"answer,omitempty"`
	AskedAt    time.Time  `json:"asked_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

// Pending reports whether the question still awaits an answer.
func (q Question) Pending() bool {
	return q.Answer == nil
}

// AwaitingInput pairs a task with its unanswered question.
type AwaitingInput struct {
	TaskID       int64    `json:"task_id"`
	TaskTitle    string   `json:"task_title"`
	RepositoryID int64    `json:"repository_id"`
	Question     Question `json:"question"`
}

// Progress is a task's plan together with its open question, if any.
type Progress struct {
	TaskID          int64     `json:"task_id"`
	Steps           []Step    `json:"steps"`
	CurrentQuestion *Question `json:"currentQuestion,omitempty"`
}

// AnswerResult is the outcome of waiting for an answer. A timeout is not
// an error: Answered is false and Question holds the still-open question.
type AnswerResult struct {
	Answered bool      `json:"answered"`
	Answer   *string   `json:"answer,omitempty"`
	Question *Question `json:"question,omitempty"`
	Message  string    `json:"message,omitempty"`
}
