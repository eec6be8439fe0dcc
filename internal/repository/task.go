package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/agentdesk/internal/domain"
)

const taskColumns = `id, repository_id, title, description, priority, status, claim_status,
	github_issue_number, agent_error, claimed_at, completed_at, created_at, updated_at`

// TaskRepository handles task claim state. Every status change is a
// conditional update on the current claim status, so concurrent writers
// cannot both win the same transition.
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *sqlx.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// FindByID retrieves a task by its ID.
func (r *TaskRepository) FindByID(ctx context.Context, id int64) (*domain.Task, error) {
	return findTask(ctx, r.db, id)
}

// Create inserts a task. Tasks normally arrive through issue creation; this
// exists for seeding and tests.
func (r *TaskRepository) Create(ctx context.Context, task domain.Task) (*domain.Task, error) {
	if task.Status == "" {
		task.Status = domain.WorkflowStatusBacklog
	}
	if task.ClaimStatus == "" {
		task.ClaimStatus = domain.ClaimStatusPending
	}
	ts := now()
	if !task.CreatedAt.IsZero() {
		ts = task.CreatedAt.UTC()
	}

	var result domain.Task
	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`INSERT INTO tasks (repository_id, title, description, priority, status,
		   claim_status, github_issue_number, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+taskColumns),
		task.RepositoryID, task.Title, task.Description, task.Priority, task.Status,
		task.ClaimStatus, task.GitHubIssueNumber, ts, ts,
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &result, nil
}

// ListClaimable returns pending tasks with an issue reference, highest
// priority first and oldest first within a priority.
func (r *TaskRepository) ListClaimable(ctx context.Context, repoID int64) ([]domain.Task, error) {
	tasks := []domain.Task{}
	err := r.db.SelectContext(ctx, &tasks,
		r.db.Rebind(`SELECT `+taskColumns+` FROM tasks
		 WHERE repository_id = ? AND claim_status = ? AND github_issue_number IS NOT NULL
		 ORDER BY priority DESC, created_at ASC, id ASC`),
		repoID, domain.ClaimStatusPending)
	if err != nil {
		return nil, fmt.Errorf("list claimable tasks for repository %d: %w", repoID, err)
	}
	return tasks, nil
}

// CountClaimable returns how many tasks ListClaimable would return.
func (r *TaskRepository) CountClaimable(ctx context.Context, repoID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n,
		r.db.Rebind(`SELECT COUNT(*) FROM tasks
		 WHERE repository_id = ? AND claim_status = ? AND github_issue_number IS NOT NULL`),
		repoID, domain.ClaimStatusPending)
	if err != nil {
		return 0, fmt.Errorf("count claimable tasks for repository %d: %w", repoID, err)
	}
	return n, nil
}

// Claim moves a pending task to assigned. Only one concurrent caller can
// succeed; the others get domain.ErrInvalidTransition.
func (r *TaskRepository) Claim(ctx context.Context, id int64) (*domain.Task, error) {
	return transition(ctx, r.db, id, domain.ClaimStatusAssigned,
		[]domain.ClaimStatus{domain.ClaimStatusPending}, `claimed_at = ?`, now())
}

// SetStatus applies a forward claim transition. Failing records errMsg and
// sends the task back to todo; completing stamps completion and moves the
// task to review.
func (r *TaskRepository) SetStatus(ctx context.Context, id int64, status domain.ClaimStatus, errMsg *string) (*domain.Task, error) {
	set, args := statusUpdate(status, errMsg, now())
	return transition(ctx, r.db, id, status, domain.TransitionSources(status), set, args...)
}

// Complete marks the task completed and appends summary to its description
// in one transaction.
func (r *TaskRepository) Complete(ctx context.Context, id int64, summary string) (*domain.Task, error) {
	var task *domain.Task
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		set, args := statusUpdate(domain.ClaimStatusCompleted, nil, now())
		set += `, description = CASE WHEN description IS NULL OR description = '' THEN ? ELSE description || ? END`
		args = append(args, summary, "\n\n"+summary)

		var err error
		task, err = transition(ctx, tx, id, domain.ClaimStatusCompleted,
			domain.TransitionSources(domain.ClaimStatusCompleted), set, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

func statusUpdate(status domain.ClaimStatus, errMsg *string, ts time.Time) (string, []any) {
	switch status {
	case domain.ClaimStatusAssigned:
		return `claimed_at = COALESCE(claimed_at, ?)`, []any{ts}
	case domain.ClaimStatusCompleted:
		return `completed_at = ?, status = ?, agent_error = NULL`, []any{ts, domain.WorkflowStatusReview}
	case domain.ClaimStatusFailed:
		return `agent_error = ?, status = ?`, []any{errMsg, domain.WorkflowStatusTodo}
	default:
		return `claimed_at = COALESCE(claimed_at, ?)`, []any{ts}
	}
}

// transition sets claim_status to target with the extra SET clause, only if
// the current status is one of sources.
func transition(ctx context.Context, ext sqlx.ExtContext, id int64, target domain.ClaimStatus, sources []domain.ClaimStatus, set string, args ...any) (*domain.Task, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: cannot move task to %s", domain.ErrInvalidTransition, target)
	}
	from := make([]string, len(sources))
	for i, s := range sources {
		from[i] = string(s)
	}

	query := `UPDATE tasks SET claim_status = ?, updated_at = ?`
	if set != "" {
		query += ", " + set
	}
	query += ` WHERE id = ? AND claim_status IN (?) RETURNING ` + taskColumns

	all := make([]any, 0, len(args)+4)
	all = append(all, target, now())
	all = append(all, args...)
	all = append(all, id, from)

	query, all, err := sqlx.In(query, all...)
	if err != nil {
		return nil, fmt.Errorf("build transition query: %w", err)
	}

	var task domain.Task
	err = ext.QueryRowxContext(ctx, ext.Rebind(query), all...).StructScan(&task)
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition task %d to %s: %w", id, target, err)
	}

	current, err := findTask(ctx, ext, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: task %d is %s, cannot move to %s (allowed from %s)",
		domain.ErrInvalidTransition, id, current.ClaimStatus, target, strings.Join(from, ", "))
}

func findTask(ctx context.Context, q sqlx.ExtContext, id int64) (*domain.Task, error) {
	var task domain.Task
	err := sqlx.GetContext(ctx, q, &task,
		q.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find task by id %d: %w", id, err)
	}
	return &task, nil
}
