package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/agentdesk/internal/domain"
)

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	db, err := Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

func seedTask(t *testing.T, db *sqlx.DB, issue *int64) (*domain.Repository, *domain.Task) {
	t.Helper()
	ctx := context.Background()

	repo, err := NewRepoRepository(db).Create(ctx, domain.Repository{Name: "widgets"})
	require.NoError(t, err)

	task, err := NewTaskRepository(db).Create(ctx, domain.Task{
		RepositoryID:      repo.ID,
		Title:             "Fix the widget",
		GitHubIssueNumber: issue,
	})
	require.NoError(t, err)
	return repo, task
}

func int64Ptr(v int64) *int64 { return &v }

func strPtr(s string) *string { return &s }

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, Migrate(context.Background(), db))
}

func TestListClaimableOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	repos := NewRepoRepository(db)
	tasks := NewTaskRepository(db)

	repo, err := repos.Create(ctx, domain.Repository{Name: "widgets"})
	require.NoError(t, err)

	base := time.Now().Add(-time.Hour)
	mk := func(title string, priority int, issue *int64, offset time.Duration) {
		_, err := tasks.Create(ctx, domain.Task{
			RepositoryID:      repo.ID,
			Title:             title,
			Priority:          priority,
			GitHubIssueNumber: issue,
			CreatedAt:         base.Add(offset),
		})
		require.NoError(t, err)
	}
	mk("low-old", 1, int64Ptr(1), 0)
	mk("high-new", 5, int64Ptr(2), 2*time.Minute)
	mk("high-old", 5, int64Ptr(3), time.Minute)
	mk("no-issue", 9, nil, 0)

	claimable, err := tasks.ListClaimable(ctx, repo.ID)
	require.NoError(t, err)
	require.Len(t, claimable, 3)
	assert.Equal(t, "high-old", claimable[0].Title)
	assert.Equal(t, "high-new", claimable[1].Title)
	assert.Equal(t, "low-old", claimable[2].Title)

	n, err := tasks.CountClaimable(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestClaimOnlyFromPending(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tasks := NewTaskRepository(db)
	_, task := seedTask(t, db, int64Ptr(7))

	claimed, err := tasks.Claim(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusAssigned, claimed.ClaimStatus)
	assert.NotNil(t, claimed.ClaimedAt)

	_, err = tasks.Claim(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = tasks.Claim(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tasks := NewTaskRepository(db)
	_, task := seedTask(t, db, int64Ptr(7))

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = tasks.Claim(ctx, task.ID)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, domain.ErrInvalidTransition):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, workers-1, conflicts)
}

func TestSetStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tasks := NewTaskRepository(db)

	t.Run("failed records error and reverts workflow", func(t *testing.T) {
		_, task := seedTask(t, db, int64Ptr(1))
		updated, err := tasks.SetStatus(ctx, task.ID, domain.ClaimStatusFailed, strPtr("tests broke"))
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimStatusFailed, updated.ClaimStatus)
		assert.Equal(t, domain.WorkflowStatusTodo, updated.Status)
		require.NotNil(t, updated.AgentError)
		assert.Equal(t, "tests broke", *updated.AgentError)

		_, err = tasks.SetStatus(ctx, task.ID, domain.ClaimStatusInProgress, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("completed stamps time and moves to review", func(t *testing.T) {
		_, task := seedTask(t, db, int64Ptr(2))
		_, err := tasks.SetStatus(ctx, task.ID, domain.ClaimStatusInProgress, nil)
		require.NoError(t, err)

		updated, err := tasks.SetStatus(ctx, task.ID, domain.ClaimStatusCompleted, nil)
		require.NoError(t, err)
		assert.Equal(t, domain.WorkflowStatusReview, updated.Status)
		assert.NotNil(t, updated.CompletedAt)

		_, err = tasks.SetStatus(ctx, task.ID, domain.ClaimStatusAssigned, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("missing task", func(t *testing.T) {
		_, err := tasks.SetStatus(ctx, 4242, domain.ClaimStatusInProgress, nil)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestCompleteAppendsSummary(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	tasks := NewTaskRepository(db)
	_, task := seedTask(t, db, int64Ptr(3))

	done, err := tasks.Complete(ctx, task.ID, "Summary: fixed it")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusCompleted, done.ClaimStatus)
	require.NotNil(t, done.Description)
	assert.Equal(t, "Summary: fixed it", *done.Description)
}

func TestReplacePlan(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	steps := NewStepRepository(db)
	tasks := NewTaskRepository(db)
	_, task := seedTask(t, db, int64Ptr(1))

	created, err := steps.ReplacePlan(ctx, task.ID, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, created, 3)
	for i, s := range created {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, domain.StepStatusPending, s.Status)
	}

	promoted, err := tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimStatusInProgress, promoted.ClaimStatus)

	replaced, err := steps.ReplacePlan(ctx, task.ID, []string{"x", "y"})
	require.NoError(t, err)
	require.Len(t, replaced, 2)

	listed, err := steps.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "x", listed[0].Description)
	assert.Equal(t, 0, listed[0].Index)
	assert.Equal(t, "y", listed[1].Description)
	assert.Equal(t, 1, listed[1].Index)

	_, err = steps.ReplacePlan(ctx, 777, []string{"a"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateStepTimestamps(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	steps := NewStepRepository(db)
	_, task := seedTask(t, db, int64Ptr(1))

	_, err := steps.ReplacePlan(ctx, task.ID, []string{"a"})
	require.NoError(t, err)

	started, err := steps.Update(ctx, task.ID, 0, domain.StepStatusInProgress, nil)
	require.NoError(t, err)
	assert.NotNil(t, started.StartedAt)
	assert.Nil(t, started.CompletedAt)

	done, err := steps.Update(ctx, task.ID, 0, domain.StepStatusDone, strPtr("all good"))
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusDone, done.Status)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Note)
	assert.Equal(t, "all good", *done.Note)

	again, err := steps.Update(ctx, task.ID, 0, domain.StepStatusDone, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StepStatusDone, again.Status)
	require.NotNil(t, again.Note)
	assert.Equal(t, "all good", *again.Note)

	_, err = steps.Update(ctx, task.ID, 5, domain.StepStatusDone, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInsertStepRenumbers(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	steps := NewStepRepository(db)
	_, task := seedTask(t, db, int64Ptr(1))

	_, err := steps.ReplacePlan(ctx, task.ID, []string{"a", "b", "c"})
	require.NoError(t, err)

	inserted, err := steps.Insert(ctx, task.ID, "X", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted.Index)

	front, err := steps.Insert(ctx, task.ID, "F", -1)
	require.NoError(t, err)
	assert.Equal(t, 0, front.Index)

	listed, err := steps.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	var got []string
	for i, s := range listed {
		assert.Equal(t, i, s.Index)
		got = append(got, s.Description)
	}
	assert.Equal(t, []string{"F", "a", "b", "X", "c"}, got)

	_, err = steps.Insert(ctx, task.ID, "Z", 5)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestQuestionLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	questions := NewQuestionRepository(db)
	_, task := seedTask(t, db, int64Ptr(1))

	_, err := questions.Latest(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = questions.Answer(ctx, task.ID, "early")
	assert.ErrorIs(t, err, domain.ErrNoPendingQuestion)

	q, err := questions.Create(ctx, task.ID, "Which DB?", []string{"postgres", "sqlite"})
	require.NoError(t, err)
	assert.True(t, q.Pending())
	assert.Equal(t, []string{"postgres", "sqlite"}, q.Choices)

	_, err = questions.Create(ctx, task.ID, "Another?", nil)
	assert.ErrorIs(t, err, domain.ErrQuestionPending)

	awaiting, err := questions.ListAwaiting(ctx)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, task.ID, awaiting[0].TaskID)
	assert.Equal(t, "Which DB?", awaiting[0].Question.Question)

	answered, err := questions.Answer(ctx, task.ID, "postgres")
	require.NoError(t, err)
	require.NotNil(t, answered.Answer)
	assert.Equal(t, "postgres", *answered.Answer)
	assert.NotNil(t, answered.AnsweredAt)

	_, err = questions.Answer(ctx, task.ID, "sqlite")
	assert.ErrorIs(t, err, domain.ErrNoPendingQuestion)

	latest, err := questions.Latest(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "postgres", *latest.Answer)

	_, err = questions.Pending(ctx, task.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	awaiting, err = questions.ListAwaiting(ctx)
	require.NoError(t, err)
	assert.Empty(t, awaiting)
}
