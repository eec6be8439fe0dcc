package handler

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/sumire/agentdesk/internal/runtoken"
)

// RouterConfig carries the handlers and middleware settings of the API.
type RouterConfig struct {
	Tasks    *TaskHandler
	Progress *ProgressHandler
	Agents   *AgentHandler

	Logger       *slog.Logger
	RunTokens    *runtoken.Issuer
	AllowOrigins []string
}

// NewRouter builds the echo instance serving the orchestration API.
func NewRouter(cfg RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = HTTPErrorHandler
	e.Validator = NewAppValidator()

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(RequestLogger(cfg.Logger, cfg.RunTokens))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  cfg.AllowOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{echo.HeaderAccept, echo.HeaderContentType, runtoken.Header},
		ExposeHeaders: []string{echo.HeaderXRequestID},
		MaxAge:        300,
	}))

	e.GET("/health", func(c echo.Context) error {
		return JSON(c, http.StatusOK, map[string]string{"status": "ok"})
	})

	tasks := e.Group("/tasks")
	tasks.GET("/:repoId", cfg.Tasks.ListClaimable)
	tasks.POST("/:taskId/claim", cfg.Tasks.Claim)
	tasks.POST("/:taskId/status", cfg.Tasks.SetStatus)
	tasks.POST("/:taskId/complete", cfg.Tasks.Complete)

	progress := e.Group("/progress")
	progress.GET("/awaiting/all", cfg.Progress.ListAwaiting)
	progress.POST("/:taskId/plan", cfg.Progress.CreatePlan)
	progress.GET("/:taskId", cfg.Progress.Get)
	progress.PUT("/:taskId/step/:index", cfg.Progress.UpdateStep)
	progress.POST("/:taskId/step", cfg.Progress.AddStep)
	progress.POST("/:taskId/ask", cfg.Progress.Ask)
	progress.GET("/:taskId/answer", cfg.Progress.WaitForAnswer)
	progress.POST("/:taskId/answer", cfg.Progress.Answer)

	agents := e.Group("/agent")
	agents.POST("/start-all", cfg.Agents.StartAll)
	agents.POST("/stop-all", cfg.Agents.StopAll)
	agents.GET("/running", cfg.Agents.ListRunning)
	agents.POST("/start/:repoId", cfg.Agents.Start)
	agents.POST("/stop/:repoId", cfg.Agents.Stop)
	agents.GET("/status/:repoId", cfg.Agents.Status)

	return e
}
