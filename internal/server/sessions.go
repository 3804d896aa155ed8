package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
)

func (s *Server) getSession(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	session, err := s.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if session == nil {
		AbortWithError(c, sessiondomain.ErrSessionNotFound)
		return
	}

	c.JSON(http.StatusOK, session)
}

func (s *Server) getSessionReadings(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}

	readings, err := s.sessions.Readings(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"readings": readings})
}

func parseSessionID(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.Param("id"))
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_session_id", "invalid session id"))
		return 0, false
	}
	return snowflake.ID(parsed), true
}
