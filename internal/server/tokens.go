package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	authdomain "github.com/voltgrid/voltgrid/internal/authorization/domain"
	"github.com/voltgrid/voltgrid/internal/ocpp"
)

type upsertAuthTokenRequest struct {
	IDTag       string     `json:"id_tag"`
	Status      string     `json:"status"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	ParentIDTag string     `json:"parent_id_tag,omitempty"`
}

func (s *Server) upsertAuthToken(c *gin.Context) {
	var req upsertAuthTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.IDTag) == "" {
		AbortWithError(c, newValidationError("id_tag", "invalid_id_tag", "id tag is required"))
		return
	}

	status := ocpp.AuthorizationStatus(strings.TrimSpace(req.Status))
	if status == "" {
		status = ocpp.AuthorizationAccepted
	}

	token := &authdomain.AuthToken{
		IDTag:       strings.TrimSpace(req.IDTag),
		Status:      status,
		ExpiryDate:  req.ExpiryDate,
		ParentIDTag: strings.TrimSpace(req.ParentIDTag),
	}
	if err := s.tokens.Upsert(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, token)
}
