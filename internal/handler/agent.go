package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/service"
)

// AgentHandler serves the agent supervisor endpoints.
type AgentHandler struct {
	agents *service.AgentService
}

// NewAgentHandler creates a new AgentHandler.
func NewAgentHandler(agents *service.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

type startRequest struct {
	WorkDir string `json:"workDir"`
}

type startAllResponse struct {
	Results []domain.StartResult `json:"results"`
	Summary domain.StartSummary  `json:"summary"`
}

// Start launches an agent for a repository.
func (h *AgentHandler) Start(c echo.Context) error {
	repoID, err := pathID(c, "repoId")
	if err != nil {
		return err
	}
	var req startRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	proc, err := h.agents.Start(c.Request().Context(), repoID, req.WorkDir)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, proc)
}

// Stop terminates a repository's agent.
func (h *AgentHandler) Stop(c echo.Context) error {
	repoID, err := pathID(c, "repoId")
	if err != nil {
		return err
	}

	if err := h.agents.Stop(repoID); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, map[string]any{"repository_id": repoID, "stopped": true})
}

// Status reports a repository's agent.
func (h *AgentHandler) Status(c echo.Context) error {
	repoID, err := pathID(c, "repoId")
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, h.agents.Status(repoID))
}

// ListRunning returns every running agent.
func (h *AgentHandler) ListRunning(c echo.Context) error {
	return JSON(c, http.StatusOK, h.agents.ListRunning())
}

// StartAll starts agents for every repository with claimable work.
func (h *AgentHandler) StartAll(c echo.Context) error {
	results, summary, err := h.agents.StartAll(c.Request().Context())
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, startAllResponse{Results: results, Summary: summary})
}

// StopAll terminates every agent.
func (h *AgentHandler) StopAll(c echo.Context) error {
	return JSON(c, http.StatusOK, map[string]int{"stoppedCount": h.agents.StopAll()})
}
