// Package supervisor owns the lifecycle of locally spawned agent processes,
// at most one per repository.
package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sumire/agentdesk/internal/domain"
)

// Spec describes one agent invocation.
type Spec struct {
	RepoID  int64
	RunID   string
	Dir     string
	Command string
	Args    []string
	Env     []string
}

// Options configures a Supervisor.
type Options struct {
	LogDir      string
	BufferLines int
	StatusLines int
	StopGrace   time.Duration
	Logger      *slog.Logger
}

// Supervisor tracks running agent processes keyed by repository id. The
// table lives only in memory; a restart forgets every child.
type Supervisor struct {
	opts Options

	mu    sync.Mutex
	procs map[int64]*process
}

type process struct {
	spec      Spec
	cmd       *exec.Cmd
	startedAt time.Time
	logPath   string
	done      chan struct{}

	mu      sync.Mutex
	lines   *ringBuffer
	logFile *os.File
}

// New creates a Supervisor.
func New(opts Options) *Supervisor {
	if opts.BufferLines <= 0 {
		opts.BufferLines = 100
	}
	if opts.StatusLines <= 0 {
		opts.StatusLines = 20
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Supervisor{opts: opts, procs: make(map[int64]*process)}
}

// Start spawns the agent described by spec. It fails with
// domain.ErrAlreadyRunning if the repository already has a process.
func (s *Supervisor) Start(spec Spec) (domain.AgentProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.procs[spec.RepoID]; ok {
		return domain.AgentProcess{}, fmt.Errorf("%w: repository %d", domain.ErrAlreadyRunning, spec.RepoID)
	}

	startedAt := time.Now().UTC()
	logFile, logPath, err := s.openLog(spec.RepoID, startedAt)
	if err != nil {
		return domain.AgentProcess{}, &domain.ProcessError{Op: "start", RepoID: spec.RepoID, Err: err}
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	setProcessGroup(cmd)

	// The parent's copies of the write ends are closed once the child holds them.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		logFile.Close()
		return domain.AgentProcess{}, &domain.ProcessError{Op: "start", RepoID: spec.RepoID, Err: fmt.Errorf("stdout pipe: %w", err)}
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(logFile, stdout, stdoutW)
		return domain.AgentProcess{}, &domain.ProcessError{Op: "start", RepoID: spec.RepoID, Err: fmt.Errorf("stderr pipe: %w", err)}
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	err = cmd.Start()
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(logFile, stdout, stderr)
		return domain.AgentProcess{}, &domain.ProcessError{Op: "start", RepoID: spec.RepoID, Err: err}
	}

	p := &process{
		spec:      spec,
		cmd:       cmd,
		startedAt: startedAt,
		logPath:   logPath,
		done:      make(chan struct{}),
		lines:     newRingBuffer(s.opts.BufferLines),
		logFile:   logFile,
	}
	s.procs[spec.RepoID] = p

	s.opts.Logger.Info("agent started",
		"repository_id", spec.RepoID,
		"run_id", spec.RunID,
		"pid", cmd.Process.Pid,
		"dir", spec.Dir,
		"log_file", logPath)

	var readers sync.WaitGroup
	readers.Add(2)
	go s.capture(p, stdout, "", &readers)
	go s.capture(p, stderr, "[stderr] ", &readers)
	go s.waitForExit(p)
	go func() {
		readers.Wait()
		p.closeLog()
	}()

	return p.info(), nil
}

// Stop signals the repository's agent to terminate and forgets it at once,
// without waiting for the process to exit. A child still alive after the
// stop grace period is killed.
func (s *Supervisor) Stop(repoID int64) error {
	s.mu.Lock()
	p, ok := s.procs[repoID]
	if ok {
		delete(s.procs, repoID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: repository %d", domain.ErrNotRunning, repoID)
	}

	s.terminate(p)
	return nil
}

// StopAll stops every tracked agent and returns how many were stopped.
func (s *Supervisor) StopAll() int {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.procs))
	for id, p := range s.procs {
		procs = append(procs, p)
		delete(s.procs, id)
	}
	s.mu.Unlock()

	for _, p := range procs {
		s.terminate(p)
	}
	return len(procs)
}

// Shutdown stops every agent and waits for the children to exit or for
// the timeout to pass.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.procs))
	for _, p := range s.procs {
		procs = append(procs, p)
	}
	s.mu.Unlock()

	s.StopAll()

	deadline := time.After(timeout)
	for _, p := range procs {
		select {
		case <-p.done:
		case <-deadline:
			s.opts.Logger.Warn("agents still running at shutdown")
			return
		}
	}
}

// Status reports whether the repository has an agent and, if so, its most
// recent output lines.
func (s *Supervisor) Status(repoID int64) domain.AgentStatus {
	s.mu.Lock()
	p, ok := s.procs[repoID]
	s.mu.Unlock()

	if !ok {
		return domain.AgentStatus{RepositoryID: repoID}
	}

	startedAt := p.startedAt
	return domain.AgentStatus{
		RepositoryID: repoID,
		Running:      true,
		PID:          p.cmd.Process.Pid,
		StartedAt:    &startedAt,
		LogFile:      p.logPath,
		RecentLogs:   p.tail(s.opts.StatusLines),
	}
}

// IsRunning reports whether the repository has a tracked agent.
func (s *Supervisor) IsRunning(repoID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.procs[repoID]
	return ok
}

// List returns every tracked agent ordered by repository id.
func (s *Supervisor) List() []domain.AgentProcess {
	s.mu.Lock()
	list := make([]domain.AgentProcess, 0, len(s.procs))
	for _, p := range s.procs {
		list = append(list, p.info())
	}
	s.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].RepositoryID < list[j].RepositoryID })
	return list
}

func (s *Supervisor) openLog(repoID int64, startedAt time.Time) (*os.File, string, error) {
	if err := os.MkdirAll(s.opts.LogDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("repo-%d-%s.log", repoID, startedAt.Format("20060102T150405.000Z"))
	path := filepath.Join(s.opts.LogDir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open log file: %w", err)
	}
	return f, path, nil
}

func (s *Supervisor) capture(p *process, r io.ReadCloser, prefix string, wg *sync.WaitGroup) {
	defer wg.Done()
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 1024*1024)
	for scanner.Scan() {
		p.record(prefix + scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.opts.Logger.Warn("error reading agent output",
			"repository_id", p.spec.RepoID, "error", err)
	}
}

// waitForExit deregisters the process as soon as it exits. Output capture
// may outlive it while descendants still hold the pipes.
func (s *Supervisor) waitForExit(p *process) {
	err := p.cmd.Wait()

	s.mu.Lock()
	if s.procs[p.spec.RepoID] == p {
		delete(s.procs, p.spec.RepoID)
	}
	s.mu.Unlock()
	close(p.done)

	if err != nil {
		exitCode := -1
		if p.cmd.ProcessState != nil {
			exitCode = p.cmd.ProcessState.ExitCode()
		}
		s.opts.Logger.Warn("agent process exited",
			"repository_id", p.spec.RepoID,
			"run_id", p.spec.RunID,
			"exit_code", exitCode,
			"error", err)
	} else {
		s.opts.Logger.Info("agent process exited cleanly",
			"repository_id", p.spec.RepoID,
			"run_id", p.spec.RunID)
	}
}

func (s *Supervisor) terminate(p *process) {
	s.opts.Logger.Info("stopping agent", "repository_id", p.spec.RepoID, "pid", p.cmd.Process.Pid)

	if err := terminateGroup(p.cmd); err != nil {
		s.opts.Logger.Debug("signal agent", "repository_id", p.spec.RepoID, "error", err)
	}

	go func() {
		select {
		case <-p.done:
		case <-time.After(s.opts.StopGrace):
			s.opts.Logger.Warn("agent did not stop gracefully, killing", "repository_id", p.spec.RepoID)
			_ = killGroup(p.cmd)
		}
	}()
}

func (p *process) record(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines.add(line)
	if p.logFile != nil {
		fmt.Fprintln(p.logFile, line)
	}
}

func (p *process) closeLog() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.logFile != nil {
		p.logFile.Close()
		p.logFile = nil
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		f.Close()
	}
}

func (p *process) tail(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lines.tail(n)
}

func (p *process) info() domain.AgentProcess {
	return domain.AgentProcess{
		RepositoryID: p.spec.RepoID,
		RunID:        p.spec.RunID,
		PID:          p.cmd.Process.Pid,
		StartedAt:    p.startedAt,
		LogFile:      p.logPath,
	}
}
