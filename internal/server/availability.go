package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/voltgrid/voltgrid/internal/availability"
	"github.com/voltgrid/voltgrid/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonCommandInFlight = "command-in-flight"

type availabilityCommandRequest struct {
	ControlID string `json:"control_id"`
	On        bool   `json:"on"`
}

type availabilityCommandResponse struct {
	ControlID string               `json:"control_id"`
	Outcome   availability.Outcome `json:"outcome"`
}

func (s *Server) listControlIDs(c *gin.Context) {
	controls, err := s.availability.Controls(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	ids := make([]string, 0, len(controls))
	for _, control := range controls {
		ids = append(ids, control.ControlID)
	}
	c.JSON(http.StatusOK, gin.H{"control_ids": ids, "controls": controls})
}

// handleAvailabilityCommand maps an operator on/off command onto the
// addressed connector. Commands for a connector with one already in flight
// are rejected rather than queued.
func (s *Server) handleAvailabilityCommand(c *gin.Context) {
	var req availabilityCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	controlID := strings.TrimSpace(req.ControlID)
	if controlID == "" {
		AbortWithError(c, newValidationError("control_id", "invalid_control_id", "control id is required"))
		return
	}

	ctx := c.Request.Context()

	if identity, connectorID, ok := s.availability.ParseControlID(controlID); ok && s.frameLimiter.Enabled() {
		token, acquired, err := s.frameLimiter.TryLockCommand(ctx, identity, connectorID)
		if err != nil {
			logger.FromContext(ctx).Warn("command lock failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !acquired {
			c.Header("Retry-After", "1")
			c.Header("X-Rate-Limited-Reason", rateLimitReasonCommandInFlight)
			AbortWithError(c, ErrRateLimited)
			return
		}
		defer func() {
			if err := s.frameLimiter.ReleaseCommand(ctx, identity, connectorID, token); err != nil {
				logger.FromContext(ctx).Warn("command unlock failed", zap.Error(err))
			}
		}()
	}

	outcome := s.availability.HandleCommand(ctx, controlID, req.On)
	c.JSON(http.StatusOK, availabilityCommandResponse{
		ControlID: controlID,
		Outcome:   outcome,
	})
}
