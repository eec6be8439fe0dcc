package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/sumire/agentdesk/internal/config"
	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/runtoken"
	"github.com/sumire/agentdesk/internal/supervisor"
)

// RepoStore defines the repository lookups consumed by AgentService.
type RepoStore interface {
	FindByID(ctx context.Context, id int64) (*domain.Repository, error)
	List(ctx context.Context) ([]domain.Repository, error)
}

// ClaimableCounter counts the claimable tasks of a repository.
type ClaimableCounter interface {
	CountClaimable(ctx context.Context, repoID int64) (int, error)
}

// ProcessSupervisor runs agent processes.
type ProcessSupervisor interface {
	Start(spec supervisor.Spec) (domain.AgentProcess, error)
	Stop(repoID int64) error
	StopAll() int
	Status(repoID int64) domain.AgentStatus
	IsRunning(repoID int64) bool
	List() []domain.AgentProcess
}

// AgentConfig holds what AgentService needs to invoke agents.
type AgentConfig struct {
	Profile config.AgentProfile
	APIURL  string
	Tokens  *runtoken.Issuer
}

// AgentService starts and stops agents for repositories.
type AgentService struct {
	repos      RepoStore
	tasks      ClaimableCounter
	supervisor ProcessSupervisor
	cfg        AgentConfig
	logger     *slog.Logger
}

// NewAgentService creates a new AgentService.
func NewAgentService(repos RepoStore, tasks ClaimableCounter, sup ProcessSupervisor, cfg AgentConfig, logger *slog.Logger) *AgentService {
	return &AgentService{repos: repos, tasks: tasks, supervisor: sup, cfg: cfg, logger: logger}
}

// Start launches an agent for the repository in workDir, or in the
// repository's local path when workDir is empty.
func (s *AgentService) Start(ctx context.Context, repoID int64, workDir string) (domain.AgentProcess, error) {
	repo, err := s.repos.FindByID(ctx, repoID)
	if err != nil {
		return domain.AgentProcess{}, err
	}
	if s.supervisor.IsRunning(repoID) {
		return domain.AgentProcess{}, fmt.Errorf("%w: repository %d", domain.ErrAlreadyRunning, repoID)
	}

	dir := strings.TrimSpace(workDir)
	if dir == "" && repo.LocalPath != nil {
		dir = *repo.LocalPath
	}
	if dir == "" {
		return domain.AgentProcess{}, fmt.Errorf("%w: repository %d has no local path", domain.ErrNoWorkDir, repoID)
	}

	spec, err := s.buildSpec(repo, dir)
	if err != nil {
		return domain.AgentProcess{}, &domain.ProcessError{Op: "start", RepoID: repoID, Err: err}
	}

	proc, err := s.supervisor.Start(spec)
	if err != nil {
		return domain.AgentProcess{}, err
	}
	return proc, nil
}

func (s *AgentService) buildSpec(repo *domain.Repository, dir string) (supervisor.Spec, error) {
	prompt, err := BuildPrompt(PromptData{RepoID: repo.ID, RepoName: repo.Name, APIURL: s.cfg.APIURL})
	if err != nil {
		return supervisor.Spec{}, err
	}

	runID := uuid.NewString()
	env := []string{
		"AGENTS_API_URL=" + s.cfg.APIURL,
		fmt.Sprintf("AGENTS_REPO_ID=%d", repo.ID),
		"AGENTS_RUN_ID=" + runID,
	}
	token, err := s.cfg.Tokens.Mint(repo.ID, runID)
	if err != nil {
		return supervisor.Spec{}, err
	}
	if token != "" {
		env = append(env, runtoken.EnvVar+"="+token)
	}
	for k, v := range s.cfg.Profile.Env {
		env = append(env, k+"="+v)
	}

	args := append(append([]string{}, s.cfg.Profile.Args...), prompt)
	return supervisor.Spec{
		RepoID:  repo.ID,
		RunID:   runID,
		Dir:     dir,
		Command: s.cfg.Profile.Command,
		Args:    args,
		Env:     env,
	}, nil
}

// Stop terminates the repository's agent.
func (s *AgentService) Stop(repoID int64) error {
	return s.supervisor.Stop(repoID)
}

// Status reports the repository's agent.
func (s *AgentService) Status(repoID int64) domain.AgentStatus {
	return s.supervisor.Status(repoID)
}

// ListRunning returns every running agent.
func (s *AgentService) ListRunning() []domain.AgentProcess {
	return s.supervisor.List()
}

// StopAll terminates every agent and returns how many were stopped.
func (s *AgentService) StopAll() int {
	n := s.supervisor.StopAll()
	s.logger.Info("stopped all agents", "count", n)
	return n
}

// StartAll starts an agent for every repository with claimable work. One
// repository failing does not stop the others.
func (s *AgentService) StartAll(ctx context.Context) ([]domain.StartResult, domain.StartSummary, error) {
	repos, err := s.repos.List(ctx)
	if err != nil {
		return nil, domain.StartSummary{}, err
	}

	results := make([]domain.StartResult, 0, len(repos))
	var summary domain.StartSummary
	for _, repo := range repos {
		res := s.startOne(ctx, repo)
		switch res.Outcome {
		case domain.StartOutcomeStarted:
			summary.Started++
		case domain.StartOutcomeAlreadyRunning:
			summary.AlreadyRunning++
		case domain.StartOutcomeNoTasks:
			summary.NoTasks++
		case domain.StartOutcomeNoLocalPath:
			summary.NoLocalPath++
		default:
			summary.Errors++
		}
		results = append(results, res)
	}

	s.logger.Info("start-all finished",
		"started", summary.Started,
		"already_running", summary.AlreadyRunning,
		"no_tasks", summary.NoTasks,
		"no_local_path", summary.NoLocalPath,
		"errors", summary.Errors)
	return results, summary, nil
}

func (s *AgentService) startOne(ctx context.Context, repo domain.Repository) domain.StartResult {
	res := domain.StartResult{RepositoryID: repo.ID, RepositoryName: repo.Name}

	n, err := s.tasks.CountClaimable(ctx, repo.ID)
	if err != nil {
		res.Outcome, res.Error = domain.StartOutcomeError, err.Error()
		return res
	}
	if n == 0 {
		res.Outcome = domain.StartOutcomeNoTasks
		return res
	}

	_, err = s.Start(ctx, repo.ID, "")
	switch {
	case err == nil:
		res.Outcome = domain.StartOutcomeStarted
	case errors.Is(err, domain.ErrAlreadyRunning):
		res.Outcome = domain.StartOutcomeAlreadyRunning
	case errors.Is(err, domain.ErrNoWorkDir):
		res.Outcome = domain.StartOutcomeNoLocalPath
	default:
		res.Outcome, res.Error = domain.StartOutcomeError, err.Error()
		s.logger.Warn("start agent failed", "repository_id", repo.ID, "error", err)
	}
	return res
}
