package domain

import "time"

// ClaimStatus represents where a task is in the agent claim lifecycle.
type ClaimStatus string

const (
	ClaimStatusPending    ClaimStatus = "pending"
	ClaimStatusAssigned   ClaimStatus = "assigned"
	ClaimStatusInProgress ClaimStatus = "in_progress"
	ClaimStatusCompleted  ClaimStatus = "completed"
	ClaimStatusFailed     ClaimStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimStatusCompleted || s == ClaimStatusFailed
}

// Valid reports whether s is one of the known claim statuses.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimStatusPending, ClaimStatusAssigned, ClaimStatusInProgress,
		ClaimStatusCompleted, ClaimStatusFailed:
		return true
	}
	return false
}

// TransitionSources returns the statuses a task may be in for a move to
// target to succeed. Transitions only go forward; a terminal status can
// only be re-applied to itself.
func TransitionSources(target ClaimStatus) []ClaimStatus {
	switch target {
	case ClaimStatusAssigned:
		return []ClaimStatus{ClaimStatusPending, ClaimStatusAssigned}
	case ClaimStatusInProgress:
		return []ClaimStatus{ClaimStatusPending, ClaimStatusAssigned, ClaimStatusInProgress}
	case ClaimStatusCompleted:
		return []ClaimStatus{ClaimStatusPending, ClaimStatusAssigned, ClaimStatusInProgress, ClaimStatusCompleted}
	case ClaimStatusFailed:
		return []ClaimStatus{ClaimStatusPending, ClaimStatusAssigned, ClaimStatusInProgress, ClaimStatusFailed}
	}
	return nil
}

// WorkflowStatus is the board column of a task, independent of the claim.
type WorkflowStatus string

const (
	WorkflowStatusBacklog    WorkflowStatus = "backlog"
	WorkflowStatusTodo       WorkflowStatus = "todo"
	WorkflowStatusInProgress WorkflowStatus = "in_progress"
	WorkflowStatusReview     WorkflowStatus = "review"
	WorkflowStatusDone       WorkflowStatus = "done"
)

// Task represents a unit of work backed by a tracked issue.
type Task struct {
	ID                int64          `json:"id" db:"id"`
	RepositoryID      int64          `json:"repository_id" db:"repository_id"`
	Title             string         `json:"title" db:"title"`
	Description       *string        `json:"description,omitempty" db:"description"`
	Priority          int            `json:"priority" db:"priority"`
	Status            WorkflowStatus `json:"status" db:"status"`
	ClaimStatus       ClaimStatus    `json:"claim_status" db:"claim_status"`
	GitHubIssueNumber *int64         `json:"github_issue_number,omitempty" db:"github_issue_number"`
	AgentError        *string        `json:"agent_error,omitempty" db:"agent_error"`
	ClaimedAt         *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt         time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at" db:"updated_at"`
}

// Repository is a source repository agents work in.
type Repository struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	FullName  *string   `json:"full_name,omitempty" db:"full_name"`
	LocalPath *string   `json:"local_path,omitempty" db:"local_path"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
