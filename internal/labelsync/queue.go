// Package labelsync mirrors task claim status to GitHub issue labels in the
// background. Local state is authoritative; a failed sync is logged and
// dropped, leaving the remote labels behind until the next transition.
package labelsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sumire/agentdesk/internal/domain"
)

// TaskFinder looks up tasks by id.
type TaskFinder interface {
	FindByID(ctx context.Context, id int64) (*domain.Task, error)
}

// RepoFinder looks up repositories by id.
type RepoFinder interface {
	FindByID(ctx context.Context, id int64) (*domain.Repository, error)
}

// LabelClient writes labels to the issue tracker.
type LabelClient interface {
	ReplaceAgentLabel(ctx context.Context, fullName string, issue int64, label string) error
}

// Nop discards every sync request. It is used when no GitHub token is set.
type Nop struct{}

// Enqueue does nothing.
func (Nop) Enqueue(int64) {}

// Config configures a Queue.
type Config struct {
	Tasks       TaskFinder
	Repos       RepoFinder
	Client      LabelClient
	MaxAttempts int
	Backoff     time.Duration
	BufferSize  int
	Logger      *slog.Logger
}

// Queue runs label syncs on a single background worker.
type Queue struct {
	cfg  Config
	jobs chan int64

	mu     sync.Mutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue creates a Queue and starts its worker.
func NewQueue(cfg Config) *Queue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:    cfg,
		jobs:   make(chan int64, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue schedules a sync for taskID. It never blocks: when the buffer is
// full the request is dropped and logged.
func (q *Queue) Enqueue(taskID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	select {
	case q.jobs <- taskID:
	default:
		q.cfg.Logger.Warn("label sync queue full, dropping", "task_id", taskID)
	}
}

// Close stops accepting work and waits for queued syncs to finish or for
// ctx to end, whichever comes first.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for taskID := range q.jobs {
		if err := q.sync(q.ctx, taskID); err != nil {
			q.cfg.Logger.Warn("label sync failed", "task_id", taskID, "error", err)
		}
	}
}

func (q *Queue) sync(ctx context.Context, taskID int64) error {
	task, err := q.cfg.Tasks.FindByID(ctx, taskID)
	if err != nil {
		return &domain.ExternalSyncError{TaskID: taskID, Err: err}
	}
	if task.GitHubIssueNumber == nil {
		return nil
	}
	repo, err := q.cfg.Repos.FindByID(ctx, task.RepositoryID)
	if err != nil {
		return &domain.ExternalSyncError{TaskID: taskID, Err: err}
	}
	if repo.FullName == nil || *repo.FullName == "" {
		return nil
	}

	label := LabelPrefix + string(task.ClaimStatus)
	backoff := q.cfg.Backoff
	for attempt := 1; ; attempt++ {
		err = q.cfg.Client.ReplaceAgentLabel(ctx, *repo.FullName, *task.GitHubIssueNumber, label)
		if err == nil {
			q.cfg.Logger.Debug("labels synced", "task_id", taskID, "label", label)
			return nil
		}
		if attempt >= q.cfg.MaxAttempts || errors.Is(err, context.Canceled) {
			return &domain.ExternalSyncError{TaskID: taskID, Err: err}
		}

		select {
		case <-ctx.Done():
			return &domain.ExternalSyncError{TaskID: taskID, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}
