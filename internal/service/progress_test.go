package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/repository"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fixture struct {
	tasks     *repository.TaskRepository
	repos     *repository.RepoRepository
	steps     *repository.StepRepository
	questions *repository.QuestionRepository
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(ctx, db))

	return fixture{
		tasks:     repository.NewTaskRepository(db),
		repos:     repository.NewRepoRepository(db),
		steps:     repository.NewStepRepository(db),
		questions: repository.NewQuestionRepository(db),
	}
}

func (f fixture) task(t *testing.T) *domain.Task {
	t.Helper()
	ctx := context.Background()
	repo, err := f.repos.Create(ctx, domain.Repository{Name: "widgets"})
	require.NoError(t, err)
	issue := int64(1)
	task, err := f.tasks.Create(ctx, domain.Task{RepositoryID: repo.ID, Title: "task", GitHubIssueNumber: &issue})
	require.NoError(t, err)
	return task
}

func (f fixture) progress() *ProgressService {
	return NewProgressService(f.tasks, f.steps, f.questions, discardLogger)
}

func TestCreatePlanValidation(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)
	ctx := context.Background()

	var vErr *domain.ValidationError
	_, err := svc.CreatePlan(ctx, task.ID, nil)
	assert.ErrorAs(t, err, &vErr)

	_, err = svc.CreatePlan(ctx, task.ID, []string{"ok", "   "})
	assert.ErrorAs(t, err, &vErr)

	steps, err := svc.CreatePlan(ctx, task.ID, []string{" trimmed ", "second"})
	require.NoError(t, err)
	assert.Equal(t, "trimmed", steps[0].Description)
}

func TestGetStepsDistinguishesMissingTask(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)
	ctx := context.Background()

	steps, err := svc.GetSteps(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	_, err = svc.GetSteps(ctx, task.ID+100)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestProgressIncludesPendingQuestion(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)
	ctx := context.Background()

	_, err := svc.CreatePlan(ctx, task.ID, []string{"a"})
	require.NoError(t, err)

	p, err := svc.GetProgress(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, p.Steps, 1)
	assert.Nil(t, p.CurrentQuestion)

	_, err = svc.Ask(ctx, task.ID, "Proceed?", nil)
	require.NoError(t, err)

	p, err = svc.GetProgress(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, p.CurrentQuestion)
	assert.Equal(t, "Proceed?", p.CurrentQuestion.Question)
}

func TestAskValidatesChoices(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)
	ctx := context.Background()

	var vErr *domain.ValidationError
	_, err := svc.Ask(ctx, task.ID, "Which?", []string{})
	assert.ErrorAs(t, err, &vErr)

	_, err = svc.Ask(ctx, task.ID, "Which?", []string{"a", ""})
	assert.ErrorAs(t, err, &vErr)

	_, err = svc.Ask(ctx, task.ID, " ", nil)
	assert.ErrorAs(t, err, &vErr)
}

func TestWaitForAnswerAlreadyAnswered(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)
	ctx := context.Background()

	_, err := svc.Ask(ctx, task.ID, "Meaning of life?", nil)
	require.NoError(t, err)
	_, err = svc.Answer(ctx, task.ID, "42")
	require.NoError(t, err)

	start := time.Now()
	res, err := svc.WaitForAnswer(ctx, task.ID, 0)
	require.NoError(t, err)
	assert.True(t, res.Answered)
	require.NotNil(t, res.Answer)
	assert.Equal(t, "42", *res.Answer)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWaitForAnswerWithoutQuestion(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)

	res, err := svc.WaitForAnswer(context.Background(), task.ID, 10*time.Second)
	require.NoError(t, err)
	assert.False(t, res.Answered)
	assert.Nil(t, res.Question)
	assert.Equal(t, "no pending question", res.Message)
}

func TestWaitForAnswerTimesOut(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)
	ctx := context.Background()

	_, err := svc.Ask(ctx, task.ID, "Still there?", nil)
	require.NoError(t, err)

	res, err := svc.WaitForAnswer(ctx, task.ID, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Answered)
	require.NotNil(t, res.Question)
	assert.Equal(t, "Still there?", res.Question.Question)
}

func TestWaitForAnswerWakesOnAnswer(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	svc.interval = time.Hour
	task := f.task(t)
	ctx := context.Background()

	_, err := svc.Ask(ctx, task.ID, "Go?", []string{"yes", "no"})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = svc.Answer(ctx, task.ID, "yes")
	}()

	start := time.Now()
	res, err := svc.WaitForAnswer(ctx, task.ID, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, res.Answered)
	assert.Equal(t, "yes", *res.Answer)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestWaitForAnswerHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)

	_, err := svc.Ask(context.Background(), task.ID, "Hello?", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = svc.WaitForAnswer(ctx, task.ID, 10*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConcurrentAddStepKeepsIndicesDense(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	task := f.task(t)
	ctx := context.Background()

	_, err := svc.CreatePlan(ctx, task.ID, []string{"first", "last"})
	require.NoError(t, err)

	const adds = 10
	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.AddStep(ctx, task.ID, fmt.Sprintf("extra %d", i), 0)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	steps, err := svc.GetSteps(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, steps, adds+2)
	for i, s := range steps {
		assert.Equal(t, i, s.Index)
	}
	assert.Equal(t, "first", steps[0].Description)
	assert.Equal(t, "last", steps[len(steps)-1].Description)
}

func TestListAwaitingInput(t *testing.T) {
	f := newFixture(t)
	svc := f.progress()
	ctx := context.Background()
	a, b := f.task(t), f.task(t)

	_, err := svc.Ask(ctx, a.ID, "A?", nil)
	require.NoError(t, err)
	_, err = svc.Ask(ctx, b.ID, "B?", nil)
	require.NoError(t, err)
	_, err = svc.Answer(ctx, a.ID, "done")
	require.NoError(t, err)

	awaiting, err := svc.ListAwaitingInput(ctx)
	require.NoError(t, err)
	require.Len(t, awaiting, 1)
	assert.Equal(t, b.ID, awaiting[0].TaskID)
}
