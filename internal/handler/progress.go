package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/service"
)

// ProgressHandler serves the progress ledger and clarification endpoints.
type ProgressHandler struct {
	progress *service.ProgressService
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(progress *service.ProgressService) *ProgressHandler {
	return &ProgressHandler{progress: progress}
}

type planRequest struct {
	Steps []string `json:"steps" validate:"required,min=1"`
}

type updateStepRequest struct {
	Status string  `json:"status" validate:"required"`
	Note   *string `json:"note"`
}

type addStepRequest struct {
	Description string `json:"description" validate:"required"`
	AfterIndex  *int   `json:"afterIndex" validate:"required"`
}

type askRequest struct {
	Question string   `json:"question" validate:"required"`
	Choices  []string `json:"choices"`
}

type answerRequest struct {
	Answer string `json:"answer" validate:"required"`
}

// CreatePlan replaces a task's plan.
func (h *ProgressHandler) CreatePlan(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}
	var req planRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	steps, err := h.progress.CreatePlan(c.Request().Context(), taskID, req.Steps)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, steps)
}

// Get returns a task's plan and open question.
func (h *ProgressHandler) Get(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}

	progress, err := h.progress.GetProgress(c.Request().Context(), taskID)
	if err != nil {
		return err
	}
	if progress.Steps == nil {
		progress.Steps = []domain.Step{}
	}
	return JSON(c, http.StatusOK, progress)
}

// UpdateStep sets the status of one step.
func (h *ProgressHandler) UpdateStep(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return fmt.Errorf("%w: index must be an integer", domain.ErrInvalidInput)
	}
	var req updateStepRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	step, err := h.progress.UpdateStep(c.Request().Context(), taskID, index, domain.StepStatus(req.Status), req.Note)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, step)
}

// AddStep inserts a step into a task's plan.
func (h *ProgressHandler) AddStep(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}
	var req addStepRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	step, err := h.progress.AddStep(c.Request().Context(), taskID, req.Description, *req.AfterIndex)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, step)
}

// Ask opens a clarification question on a task.
func (h *ProgressHandler) Ask(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}
	var req askRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	q, err := h.progress.Ask(c.Request().Context(), taskID, req.Question, req.Choices)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, q)
}

// WaitForAnswer long-polls for the answer to a task's latest question.
// The timeout query parameter is in milliseconds and defaults to the
// longest allowed wait.
func (h *ProgressHandler) WaitForAnswer(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}

	timeout := service.MaxAnswerWait
	if raw := c.QueryParam("timeout"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: timeout must be milliseconds", domain.ErrInvalidInput)
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	result, err := h.progress.WaitForAnswer(c.Request().Context(), taskID, timeout)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, result)
}

// Answer answers a task's open question.
func (h *ProgressHandler) Answer(c echo.Context) error {
	taskID, err := pathID(c, "taskId")
	if err != nil {
		return err
	}
	var req answerRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	q, err := h.progress.Answer(c.Request().Context(), taskID, req.Answer)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, q)
}

// ListAwaiting returns every task waiting on a human answer.
func (h *ProgressHandler) ListAwaiting(c echo.Context) error {
	awaiting, err := h.progress.ListAwaitingInput(c.Request().Context())
	if err != nil {
		return err
	}
	if awaiting == nil {
		awaiting = []domain.AwaitingInput{}
	}
	return JSON(c, http.StatusOK, awaiting)
}
