package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	chargepointdomain "github.com/voltgrid/voltgrid/internal/chargepoint/domain"
)

type chargePointResponse struct {
	ChargePoint *chargepointdomain.ChargePoint `json:"charge_point"`
	Connectors  []chargepointdomain.Connector  `json:"connectors"`
}

func (s *Server) getChargePoint(c *gin.Context) {
	identity := strings.TrimSpace(c.Param("identity"))
	if identity == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	point, err := s.points.GetByIdentity(c.Request.Context(), identity)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	connectors, err := s.points.ListConnectors(c.Request.Context(), point.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, chargePointResponse{
		ChargePoint: point,
		Connectors:  connectors,
	})
}
