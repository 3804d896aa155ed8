package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"github.com/voltgrid/voltgrid/internal/router"
)

const (
	messageTypeCall       = 2
	messageTypeCallResult = 3
	messageTypeCallError  = 4
)

// handleFrame accepts one OCPP-J call frame and answers with the matching
// call result or call error. Every accepted frame gets exactly one answer.
func (s *Server) handleFrame(c *gin.Context) {
	identity := strings.TrimSpace(c.Param("identity"))
	if identity == "" {
		AbortWithError(c, invalidRequestError())
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	uniqueID, action, payload, frameErr := parseCallFrame(body)
	if frameErr != nil {
		c.JSON(http.StatusOK, callErrorFrame(uniqueID, router.CodeFormationViolation, frameErr.Error()))
		return
	}
	c.Set("ocpp_action", string(action))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RoundTripTimeout)
	defer cancel()

	outcome := <-s.router.Dispatch(ctx, router.Call{
		CorrelationID: uniqueID,
		Identity:      identity,
		Action:        action,
		Payload:       payload,
	})

	if outcome.Err != nil {
		c.JSON(http.StatusOK, callErrorFrame(uniqueID, outcome.Err.Code, outcome.Err.Description))
		return
	}
	c.JSON(http.StatusOK, []any{messageTypeCallResult, uniqueID, outcome.Result})
}

type frameError string

func (e frameError) Error() string { return string(e) }

// parseCallFrame decodes [2, "<uniqueId>", "<Action>", {payload}]. The
// unique id is returned even on failure so the error answer correlates.
func parseCallFrame(body []byte) (uniqueID string, action ocpp.Action, payload json.RawMessage, err error) {
	var frame []json.RawMessage
	if unmarshalErr := json.Unmarshal(body, &frame); unmarshalErr != nil {
		return "", "", nil, frameError("malformed frame")
	}
	if len(frame) < 2 {
		return "", "", nil, frameError("frame too short")
	}

	var messageType int
	if unmarshalErr := json.Unmarshal(frame[0], &messageType); unmarshalErr != nil {
		return "", "", nil, frameError("malformed message type")
	}
	_ = json.Unmarshal(frame[1], &uniqueID)

	if messageType != messageTypeCall {
		return uniqueID, "", nil, frameError("unexpected message type")
	}
	if len(frame) < 4 {
		return uniqueID, "", nil, frameError("call frame requires action and payload")
	}

	var actionName string
	if unmarshalErr := json.Unmarshal(frame[2], &actionName); unmarshalErr != nil || strings.TrimSpace(actionName) == "" {
		return uniqueID, "", nil, frameError("malformed action")
	}

	return uniqueID, ocpp.Action(actionName), frame[3], nil
}

func callErrorFrame(uniqueID string, code router.ErrorCode, description string) []any {
	return []any{messageTypeCallError, uniqueID, string(code), description, map[string]any{}}
}
