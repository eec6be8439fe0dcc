package domain

import "time"

// AgentProcess describes a supervised agent process.
type AgentProcess struct {
	RepositoryID int64     `json:"repository_id"`
	RunID        string    `json:"run_id"`
	PID          int       `json:"pid"`
	StartedAt    time.Time `json:"started_at"`
	LogFile      string    `json:"log_file"`
}

// AgentStatus is the supervisor's view of one repository.
type AgentStatus struct {
	RepositoryID int64      `json:"repository_id"`
	Running      bool       `json:"running"`
	PID          int        `json:"pid,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	LogFile      string     `json:"log_file,omitempty"`
	RecentLogs   []string   `json:"recent_logs,omitempty"`
}

// StartOutcome classifies a per-repository result of a bulk start.
type StartOutcome string

const (
	StartOutcomeStarted        StartOutcome = "started"
	StartOutcomeAlreadyRunning StartOutcome = "already_running"
	StartOutcomeNoTasks        StartOutcome = "no_tasks"
	StartOutcomeNoLocalPath    StartOutcome = "no_local_path"
	StartOutcomeError          StartOutcome = "error"
)

// StartResult is the outcome of starting an agent for one repository.
type StartResult struct {
	RepositoryID   int64        `json:"repository_id"`
	RepositoryName string       `json:"repository_name"`
	Outcome        StartOutcome `json:"outcome"`
	Error          string       `json:"error,omitempty"`
}

// StartSummary counts bulk start outcomes.
type StartSummary struct {
	Started        int `json:"started"`
	AlreadyRunning int `json:"already_running"`
	NoTasks        int `json:"no_tasks"`
	NoLocalPath    int `json:"no_local_path"`
	Errors         int `json:"errors"`
}
