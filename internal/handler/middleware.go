package handler

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sumire/agentdesk/internal/domain"
	"github.com/sumire/agentdesk/internal/runtoken"
)

const contextKeyRun = "agent_run"

// RequestLogger logs each HTTP request with structured fields. Requests
// carrying a valid run token are attributed to the agent run that sent them;
// an invalid token is ignored.
func RequestLogger(logger *slog.Logger, tokens *runtoken.Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			if raw := c.Request().Header.Get(runtoken.Header); raw != "" && tokens != nil {
				if claims, err := tokens.Parse(raw); err == nil {
					c.Set(contextKeyRun, claims)
				}
			}

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			attrs := []any{
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if claims, ok := GetRun(c); ok {
				attrs = append(attrs, "repo_id", claims.RepoID, "run_id", claims.RunID())
			}
			logger.Info("http request", attrs...)

			return nil
		}
	}
}

// GetRun returns the agent run the request was attributed to, if any.
func GetRun(c echo.Context) (*runtoken.Claims, bool) {
	claims, ok := c.Get(contextKeyRun).(*runtoken.Claims)
	return claims, ok
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrInvalidInput, name)
	}
	return id, nil
}
