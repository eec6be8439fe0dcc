package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/agentdesk/internal/domain"
)

const stepColumns = `id, task_id, step_index, description, status, note, started_at, completed_at`

// StepRepository handles a task's plan steps. Indices stay dense
// (0..N-1) after every write.
type StepRepository struct {
	db *sqlx.DB
}

// NewStepRepository creates a new StepRepository.
func NewStepRepository(db *sqlx.DB) *StepRepository {
	return &StepRepository{db: db}
}

// ListByTask returns the task's steps in index order.
func (r *StepRepository) ListByTask(ctx context.Context, taskID int64) ([]domain.Step, error) {
	return listSteps(ctx, r.db, taskID)
}

// ReplacePlan deletes the task's steps and inserts descriptions as a fresh
// pending plan. A pending or assigned task is promoted to in_progress.
func (r *StepRepository) ReplacePlan(ctx context.Context, taskID int64, descriptions []string) ([]domain.Step, error) {
	var steps []domain.Step
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := findTask(ctx, tx, taskID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`DELETE FROM task_steps WHERE task_id = ?`), taskID); err != nil {
			return fmt.Errorf("delete steps: %w", err)
		}

		for i, desc := range descriptions {
			if _, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO task_steps (task_id, step_index, description, status) VALUES (?, ?, ?, ?)`),
				taskID, i, desc, domain.StepStatusPending); err != nil {
				return fmt.Errorf("insert step %d: %w", i, err)
			}
		}

		ts := now()
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE tasks SET claim_status = ?, claimed_at = COALESCE(claimed_at, ?), updated_at = ?
			 WHERE id = ? AND claim_status IN (?, ?)`),
			domain.ClaimStatusInProgress, ts, ts, taskID,
			domain.ClaimStatusPending, domain.ClaimStatusAssigned); err != nil {
			return fmt.Errorf("promote task: %w", err)
		}

		var err error
		steps, err = listSteps(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}

// Update sets the status of the step at index. Entering in_progress stamps
// started_at, a terminal status stamps completed_at, and a nil note keeps
// the previous one.
func (r *StepRepository) Update(ctx context.Context, taskID int64, index int, status domain.StepStatus, note *string) (*domain.Step, error) {
	var startedAt, completedAt *time.Time
	ts := now()
	if status == domain.StepStatusInProgress {
		startedAt = &ts
	}
	if status.IsTerminal() {
		completedAt = &ts
	}

	var step domain.Step
	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`UPDATE task_steps
		 SET status = ?, note = COALESCE(?, note),
		     started_at = COALESCE(?, started_at), completed_at = COALESCE(?, completed_at)
		 WHERE task_id = ? AND step_index = ?
		 RETURNING `+stepColumns),
		status, note, startedAt, completedAt, taskID, index,
	).StructScan(&step)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %d has no step %d", domain.ErrNotFound, taskID, index)
		}
		return nil, fmt.Errorf("update step %d of task %d: %w", index, taskID, err)
	}
	return &step, nil
}

// Insert places a new pending step at afterIndex+1, shifting later steps
// up by one. afterIndex -1 inserts at the front.
func (r *StepRepository) Insert(ctx context.Context, taskID int64, description string, afterIndex int) (*domain.Step, error) {
	var step domain.Step
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := findTask(ctx, tx, taskID); err != nil {
			return err
		}

		var count int
		if err := tx.GetContext(ctx, &count,
			tx.Rebind(`SELECT COUNT(*) FROM task_steps WHERE task_id = ?`), taskID); err != nil {
			return fmt.Errorf("count steps: %w", err)
		}
		if afterIndex < -1 || afterIndex > count-1 {
			return &domain.ValidationError{
				Field:   "afterIndex",
				Message: fmt.Sprintf("must be between -1 and %d", count-1),
			}
		}

		// Shift through negative indices so the (task_id, step_index)
		// uniqueness holds row by row during the renumbering.
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE task_steps SET step_index = -step_index - 1 WHERE task_id = ? AND step_index > ?`),
			taskID, afterIndex); err != nil {
			return fmt.Errorf("shift steps: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			tx.Rebind(`UPDATE task_steps SET step_index = -step_index WHERE task_id = ? AND step_index < 0`),
			taskID); err != nil {
			return fmt.Errorf("shift steps: %w", err)
		}

		return tx.QueryRowxContext(ctx,
			tx.Rebind(`INSERT INTO task_steps (task_id, step_index, description, status)
			 VALUES (?, ?, ?, ?)
			 RETURNING `+stepColumns),
			taskID, afterIndex+1, description, domain.StepStatusPending,
		).StructScan(&step)
	})
	if err != nil {
		return nil, err
	}
	return &step, nil
}

func listSteps(ctx context.Context, q sqlx.ExtContext, taskID int64) ([]domain.Step, error) {
	steps := []domain.Step{}
	if err := sqlx.SelectContext(ctx, q, &steps,
		q.Rebind(`SELECT `+stepColumns+` FROM task_steps WHERE task_id = ? ORDER BY step_index`),
		taskID); err != nil {
		return nil, fmt.Errorf("list steps for task %d: %w", taskID, err)
	}
	return steps, nil
}
