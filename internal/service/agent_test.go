package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sumire/agentdesk/internal/config"
	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/runtoken"
	"github.com/sumire/agentdesk/internal/supervisor"
)

type fakeRepos []domain.Repository

func (f fakeRepos) FindByID(_ context.Context, id int64) (*domain.Repository, error) {
	for i := range f {
		if f[i].ID == id {
			return &f[i], nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f fakeRepos) List(context.Context) ([]domain.Repository, error) {
	return f, nil
}

type fakeCounter map[int64]int

func (f fakeCounter) CountClaimable(_ context.Context, repoID int64) (int, error) {
	if n, ok := f[repoID]; ok && n < 0 {
		return 0, errors.New("database is locked")
	}
	return f[repoID], nil
}

type fakeSupervisor struct {
	running  map[int64]bool
	started  []supervisor.Spec
	startErr error
}

func newFakeSupervisor(running ...int64) *fakeSupervisor {
	s := &fakeSupervisor{running: map[int64]bool{}}
	for _, id := range running {
		s.running[id] = true
	}
	return s
}

func (s *fakeSupervisor) Start(spec supervisor.Spec) (domain.AgentProcess, error) {
	if s.startErr != nil {
		return domain.AgentProcess{}, s.startErr
	}
	s.started = append(s.started, spec)
	s.running[spec.RepoID] = true
	return domain.AgentProcess{RepositoryID: spec.RepoID, RunID: spec.RunID, PID: 100 + int(spec.RepoID), StartedAt: time.Now()}, nil
}

func (s *fakeSupervisor) Stop(repoID int64) error {
	if !s.running[repoID] {
		return domain.ErrNotRunning
	}
	delete(s.running, repoID)
	return nil
}

func (s *fakeSupervisor) StopAll() int {
	n := len(s.running)
	s.running = map[int64]bool{}
	return n
}

func (s *fakeSupervisor) Status(repoID int64) domain.AgentStatus {
	return domain.AgentStatus{RepositoryID: repoID, Running: s.running[repoID]}
}

func (s *fakeSupervisor) IsRunning(repoID int64) bool { return s.running[repoID] }

func (s *fakeSupervisor) List() []domain.AgentProcess {
	var out []domain.AgentProcess
	for id := range s.running {
		out = append(out, domain.AgentProcess{RepositoryID: id})
	}
	return out
}

func strp(s string) *string { return &s }

func agentConfig() AgentConfig {
	return AgentConfig{
		Profile: config.AgentProfile{
			Command: "claude",
			Args:    []string{"-p"},
			Env:     map[string]string{"FOO": "bar"},
		},
		APIURL: "http://localhost:8080",
		Tokens: runtoken.NewIssuer("secret"),
	}
}

func TestStartBuildsAgentInvocation(t *testing.T) {
	sup := newFakeSupervisor()
	repos := fakeRepos{{ID: 1, Name: "widgets", LocalPath: strp("/src/widgets")}}
	svc := NewAgentService(repos, fakeCounter{}, sup, agentConfig(), discardLogger)

	proc, err := svc.Start(context.Background(), 1, "")
	require.NoError(t, err)
	require.Len(t, sup.started, 1)

	spec := sup.started[0]
	assert.Equal(t, proc.RunID, spec.RunID)
	assert.Equal(t, "/src/widgets", spec.Dir)
	assert.Equal(t, "claude", spec.Command)
	require.Len(t, spec.Args, 2)
	assert.Equal(t, "-p", spec.Args[0])
	assert.Contains(t, spec.Args[1], `"widgets" (id 1)`)
	assert.Contains(t, spec.Env, "AGENTS_API_URL=http://localhost:8080")
	assert.Contains(t, spec.Env, "AGENTS_REPO_ID=1")
	assert.Contains(t, spec.Env, "FOO=bar")

	var token string
	for _, kv := range spec.Env {
		if v, ok := strings.CutPrefix(kv, runtoken.EnvVar+"="); ok {
			token = v
		}
	}
	claims, err := agentConfig().Tokens.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), claims.RepoID)
	assert.Equal(t, spec.RunID, claims.RunID())
}

func TestStartPrefersExplicitWorkDir(t *testing.T) {
	sup := newFakeSupervisor()
	repos := fakeRepos{{ID: 1, Name: "widgets", LocalPath: strp("/src/widgets")}}
	svc := NewAgentService(repos, fakeCounter{}, sup, agentConfig(), discardLogger)

	_, err := svc.Start(context.Background(), 1, "/tmp/checkout")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/checkout", sup.started[0].Dir)
}

func TestStartErrors(t *testing.T) {
	repos := fakeRepos{
		{ID: 1, Name: "widgets", LocalPath: strp("/src/widgets")},
		{ID: 2, Name: "gadgets"},
	}
	ctx := context.Background()

	svc := NewAgentService(repos, fakeCounter{}, newFakeSupervisor(1), agentConfig(), discardLogger)

	_, err := svc.Start(ctx, 1, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)

	_, err = svc.Start(ctx, 2, "")
	assert.ErrorIs(t, err, domain.ErrNoWorkDir)

	_, err = svc.Start(ctx, 3, "/tmp")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStartAllClassifiesEveryRepository(t *testing.T) {
	repos := fakeRepos{
		{ID: 1, Name: "running", LocalPath: strp("/src/a")},
		{ID: 2, Name: "idle", LocalPath: strp("/src/b")},
		{ID: 3, Name: "pathless"},
		{ID: 4, Name: "ready", LocalPath: strp("/src/d")},
		{ID: 5, Name: "broken", LocalPath: strp("/src/e")},
	}
	counts := fakeCounter{1: 2, 2: 0, 3: 1, 4: 3, 5: -1}
	sup := newFakeSupervisor(1)
	svc := NewAgentService(repos, counts, sup, agentConfig(), discardLogger)

	results, summary, err := svc.StartAll(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 5)

	outcomes := map[int64]domain.StartOutcome{}
	for _, r := range results {
		outcomes[r.RepositoryID] = r.Outcome
	}
	assert.Equal(t, map[int64]domain.StartOutcome{
		1: domain.StartOutcomeAlreadyRunning,
		2: domain.StartOutcomeNoTasks,
		3: domain.StartOutcomeNoLocalPath,
		4: domain.StartOutcomeStarted,
		5: domain.StartOutcomeError,
	}, outcomes)
	assert.Equal(t, domain.StartSummary{Started: 1, AlreadyRunning: 1, NoTasks: 1, NoLocalPath: 1, Errors: 1}, summary)
	assert.Contains(t, results[4].Error, "database is locked")
}

func TestStartAllReportsSupervisorFailure(t *testing.T) {
	repos := fakeRepos{{ID: 1, Name: "widgets", LocalPath: strp("/src/widgets")}}
	sup := newFakeSupervisor()
	sup.startErr = &domain.ProcessError{Op: "start", RepoID: 1, Err: errors.New("exec: not found")}
	svc := NewAgentService(repos, fakeCounter{1: 1}, sup, agentConfig(), discardLogger)

	results, summary, err := svc.StartAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, domain.StartOutcomeError, results[0].Outcome)
	assert.NotEmpty(t, results[0].Error)
}

func TestStopAndStopAll(t *testing.T) {
	sup := newFakeSupervisor(1, 2)
	svc := NewAgentService(fakeRepos{}, fakeCounter{}, sup, agentConfig(), discardLogger)

	require.NoError(t, svc.Stop(1))
	assert.ErrorIs(t, svc.Stop(1), domain.ErrNotRunning)
	assert.Len(t, svc.ListRunning(), 1)
	assert.Equal(t, 1, svc.StopAll())
	assert.False(t, svc.Status(2).Running)
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(PromptData{RepoID: 7, RepoName: "widgets", APIURL: "http://api"})
	require.NoError(t, err)
	assert.Contains(t, prompt, `"widgets" (id 7)`)
	assert.Contains(t, prompt, "http://api")
	assert.Contains(t, prompt, "agentctl tasks --repo 7")
	assert.Contains(t, prompt, "agentctl wait --task <id>")
}
