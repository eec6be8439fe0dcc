package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/agentdesk/internal/domain"
)

const questionColumns = `id, task_id, question, choices, answer, asked_at, answered_at`

type questionRow struct {
	ID         int64          `db:"id"`
	TaskID     int64          `db:"task_id"`
	Question   string         `db:"question"`
	Choices    sql.NullString `db:"choices"`
	Answer     *string        `db:"answer"`
	AskedAt    time.Time      `db:"asked_at"`
	AnsweredAt *time.Time     `db:"answered_at"`
}

func (r questionRow) toDomain() (*domain.Question, error) {
	q := &domain.Question{
		ID:         r.ID,
		TaskID:     r.TaskID,
		Question:   r.Question,
		Answer:     r.Answer,
		AskedAt:    r.AskedAt,
		AnsweredAt: r.AnsweredAt,
	}
	if r.Choices.Valid && r.Choices.String != "" {
		if err := json.Unmarshal([]byte(r.Choices.String), &q.Choices); err != nil {
			return nil, fmt.Errorf("decode choices of question %d: %w", r.ID, err)
		}
	}
	return q, nil
}

// QuestionRepository handles clarification questions. A task has at most
// one unanswered question; answers are written once.
type QuestionRepository struct {
	db *sqlx.DB
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(db *sqlx.DB) *QuestionRepository {
	return &QuestionRepository{db: db}
}

// Create records a new unanswered question. It fails with
// domain.ErrQuestionPending if the task already has one.
func (r *QuestionRepository) Create(ctx context.Context, taskID int64, question string, choices []string) (*domain.Question, error) {
	var encoded *string
	if len(choices) > 0 {
		b, err := json.Marshal(choices)
		if err != nil {
			return nil, fmt.Errorf("encode choices: %w", err)
		}
		s := string(b)
		encoded = &s
	}

	var row questionRow
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := findTask(ctx, tx, taskID); err != nil {
			return err
		}

		var pending int
		if err := tx.GetContext(ctx, &pending,
			tx.Rebind(`SELECT COUNT(*) FROM task_questions WHERE task_id = ? AND answer IS NULL`),
			taskID); err != nil {
			return fmt.Errorf("count pending questions: %w", err)
		}
		if pending > 0 {
			return fmt.Errorf("%w: task %d", domain.ErrQuestionPending, taskID)
		}

		if err := tx.QueryRowxContext(ctx,
			tx.Rebind(`INSERT INTO task_questions (task_id, question, choices, asked_at)
			 VALUES (?, ?, ?, ?)
			 RETURNING `+questionColumns),
			taskID, question, encoded, now(),
		).StructScan(&row); err != nil {
			return fmt.Errorf("insert question: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row.toDomain()
}

// Latest returns the most recently asked question for the task, answered or
// not. It returns domain.ErrNotFound if none was ever asked.
func (r *QuestionRepository) Latest(ctx context.Context, taskID int64) (*domain.Question, error) {
	return r.findOne(ctx,
		`SELECT `+questionColumns+` FROM task_questions
		 WHERE task_id = ? ORDER BY id DESC LIMIT 1`, taskID)
}

// Pending returns the task's unanswered question or domain.ErrNotFound.
func (r *QuestionRepository) Pending(ctx context.Context, taskID int64) (*domain.Question, error) {
	return r.findOne(ctx,
		`SELECT `+questionColumns+` FROM task_questions
		 WHERE task_id = ? AND answer IS NULL ORDER BY id DESC LIMIT 1`, taskID)
}

// Answer sets the answer of the task's pending question. It fails with
// domain.ErrNoPendingQuestion when there is nothing to answer.
func (r *QuestionRepository) Answer(ctx context.Context, taskID int64, answer string) (*domain.Question, error) {
	var row questionRow
	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`UPDATE task_questions SET answer = ?, answered_at = ?
		 WHERE id = (SELECT id FROM task_questions WHERE task_id = ? AND answer IS NULL ORDER BY id DESC LIMIT 1)
		   AND answer IS NULL
		 RETURNING `+questionColumns),
		answer, now(), taskID,
	).StructScan(&row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %d", domain.ErrNoPendingQuestion, taskID)
		}
		return nil, fmt.Errorf("answer question of task %d: %w", taskID, err)
	}
	return row.toDomain()
}

// ListAwaiting returns every task with an unanswered question, oldest
// question first.
func (r *QuestionRepository) ListAwaiting(ctx context.Context) ([]domain.AwaitingInput, error) {
	var rows []struct {
		questionRow
		TaskTitle    string `db:"task_title"`
		RepositoryID int64  `db:"repository_id"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT q.id, q.task_id, q.question, q.choices, q.answer, q.asked_at, q.answered_at,
		        t.title AS task_title, t.repository_id
		 FROM task_questions q
		 JOIN tasks t ON t.id = q.task_id
		 WHERE q.answer IS NULL
		 ORDER BY q.asked_at ASC, q.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list awaiting questions: %w", err)
	}

	result := make([]domain.AwaitingInput, 0, len(rows))
	for _, row := range rows {
		q, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, domain.AwaitingInput{
			TaskID:       row.TaskID,
			TaskTitle:    row.TaskTitle,
			RepositoryID: row.RepositoryID,
			Question:     *q,
		})
	}
	return result, nil
}

func (r *QuestionRepository) findOne(ctx context.Context, query string, args ...any) (*domain.Question, error) {
	var row questionRow
	if err := r.db.GetContext(ctx, &row, r.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find question: %w", err)
	}
	return row.toDomain()
}
