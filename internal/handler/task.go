package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/service"
)

// TaskHandler serves the task claim endpoints.
type TaskHandler struct {
	tasks *service.TaskService
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks *service.TaskService) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
	Error  string `json:"error"`
}

type completeRequest struct {
	Summary string `json:"summary" validate:"required"`
	PRURL   string `json:"prUrl" validate:"omitempty,url"`
}

// ListClaimable returns the claimable tasks of a repository.
func (h *TaskHandler) ListClaimable(c echo.Context) error {
	repoID, err := pathID(c, "repoId")
	if err != nil {
		return err
	}

	tasks, err := h.tasks.ListClaimable(c.Request().Context(), repoID)
	if err != nil {
		return err
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return JSON(c, http.StatusOK, tasks)
}

// Claim assigns a pending task to the calling agent.
func (h *TaskHandler) Claim(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}

	task, err := h.tasks.Claim(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, task)
}

// SetStatus moves a task along its claim lifecycle.
func (h *TaskHandler) SetStatus(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	task, err := h.tasks.SetStatus(c.Request().Context(), taskID, domain.ClaimStatus(req.Status), req.Error)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, task)
}

// Complete finishes a task with the agent's summary.
func (h *TaskHandler) Complete(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}
	var req completeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	task, err := h.tasks.Complete(c.Request().Context(), taskID, req.Summary, req.PRURL)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, task)
}
