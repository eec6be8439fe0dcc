package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/sumire/agentdesk/internal/domain"
)

const repoColumns = `id, name, full_name, local_path, created_at`

// RepoRepository handles source repository data access.
type RepoRepository struct {
	db *sqlx.DB
}

// NewRepoRepository creates a new RepoRepository.
func NewRepoRepository(db *sqlx.DB) *RepoRepository {
	return &RepoRepository{db: db}
}

// FindByID retrieves a repository by its ID.
func (r *RepoRepository) FindByID(ctx context.Context, id int64) (*domain.Repository, error) {
	var repo domain.Repository
	err := r.db.GetContext(ctx, &repo,
		r.db.Rebind(`SELECT `+repoColumns+` FROM repositories WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("find repository by id %d: %w", id, err)
	}
	return &repo, nil
}

// List returns every repository ordered by ID.
func (r *RepoRepository) List(ctx context.Context) ([]domain.Repository, error) {
	repos := []domain.Repository{}
	if err := r.db.SelectContext(ctx, &repos,
		`SELECT `+repoColumns+` FROM repositories ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	return repos, nil
}

// Create inserts a repository and returns the stored row.
func (r *RepoRepository) Create(ctx context.Context, repo domain.Repository) (*domain.Repository, error) {
	var result domain.Repository
	err := r.db.QueryRowxContext(ctx,
		r.db.Rebind(`INSERT INTO repositories (name, full_name, local_path, created_at)
		 VALUES (?, ?, ?, ?)
		 RETURNING `+repoColumns),
		repo.Name, repo.FullName, repo.LocalPath, now(),
	).StructScan(&result)
	if err != nil {
		return nil, fmt.Errorf("create repository: %w", err)
	}
	return &result, nil
}
