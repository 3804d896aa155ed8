package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	authdomain "github.com/voltgrid/voltgrid/internal/authorization/domain"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/observability"
	obsmetrics "github.com/voltgrid/voltgrid/internal/observability/metrics"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"github.com/voltgrid/voltgrid/internal/router"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type heartbeatProcessor struct{}

func (heartbeatProcessor) Actions() []ocpp.Action {
	return []ocpp.Action{ocpp.ActionHeartbeat}
}

func (heartbeatProcessor) Handle(ctx context.Context, call *router.Call) (any, error) {
	return ocpp.HeartbeatConf{CurrentTime: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, nil
}

type fakeSessionService struct {
	sessiondomain.Service

	session *sessiondomain.ChargeSession
}

func (f *fakeSessionService) GetByID(ctx context.Context, id snowflake.ID) (*sessiondomain.ChargeSession, error) {
	return f.session, nil
}

type fakeTokenService struct {
	authdomain.Service

	upserted *authdomain.AuthToken
}

func (f *fakeTokenService) Upsert(ctx context.Context, token *authdomain.AuthToken) error {
	f.upserted = token
	return nil
}

func newTestServer(t *testing.T, sessions sessiondomain.Service, tokens authdomain.Service) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	obsmetrics.ResetHTTPMetricsForTest()

	log := zap.NewNop()
	engine := NewEngine(observability.Config{}, obsmetrics.NewHTTPMetrics(obsmetrics.Config{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	rt := router.NewRouter(router.RouterParam{Log: log})
	rt.Register(heartbeatProcessor{})

	return &Server{
		engine:   engine,
		cfg:      config.Config{RoundTripTimeout: 5 * time.Second},
		log:      log,
		genID:    node,
		router:   rt,
		sessions: sessions,
		tokens:   tokens,
	}
}

func TestHandleFrameRoundTrip(t *testing.T) {
	srv := newTestServer(t, &fakeSessionService{}, &fakeTokenService{})
	srv.registerProtocolRoutes()

	body := []byte(`[2,"msg-1","Heartbeat",{}]`)
	req := httptest.NewRequest(http.MethodPost, "/ocpp/CP-001", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var frame []json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
	require.Len(t, frame, 3)

	var messageType int
	require.NoError(t, json.Unmarshal(frame[0], &messageType))
	require.Equal(t, messageTypeCallResult, messageType)

	var uniqueID string
	require.NoError(t, json.Unmarshal(frame[1], &uniqueID))
	require.Equal(t, "msg-1", uniqueID)

	var conf ocpp.HeartbeatConf
	require.NoError(t, json.Unmarshal(frame[2], &conf))
	require.False(t, conf.CurrentTime.IsZero())
}

func TestHandleFrameMalformed(t *testing.T) {
	srv := newTestServer(t, &fakeSessionService{}, &fakeTokenService{})
	srv.registerProtocolRoutes()

	cases := []struct {
		name string
		body string
	}{
		{"not json", `not json at all`},
		{"too short", `[2]`},
		{"wrong type", `[3,"msg-1",{}]`},
		{"missing action", `[2,"msg-1"]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ocpp/CP-001", bytes.NewReader([]byte(tc.body)))
			rec := httptest.NewRecorder()
			srv.engine.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)

			var frame []json.RawMessage
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &frame))
			require.Len(t, frame, 5)

			var messageType int
			require.NoError(t, json.Unmarshal(frame[0], &messageType))
			require.Equal(t, messageTypeCallError, messageType)

			var code string
			require.NoError(t, json.Unmarshal(frame[2], &code))
			require.Equal(t, string(router.CodeFormationViolation), code)
		})
	}
}

func TestGetSessionInvalidID(t *testing.T) {
	srv := newTestServer(t, &fakeSessionService{}, &fakeTokenService{})
	srv.registerAPIRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeSessionService{}, &fakeTokenService{})
	srv.registerAPIRoutes()

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/12345", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpsertAuthTokenDefaultsToAccepted(t *testing.T) {
	tokens := &fakeTokenService{}
	srv := newTestServer(t, &fakeSessionService{}, tokens)
	srv.registerAPIRoutes()

	body := []byte(`{"id_tag":"TAG-001"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/auth-tokens", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, tokens.upserted)
	require.Equal(t, "TAG-001", tokens.upserted.IDTag)
	require.Equal(t, ocpp.AuthorizationAccepted, tokens.upserted.Status)
}

func TestUpsertAuthTokenRequiresIDTag(t *testing.T) {
	srv := newTestServer(t, &fakeSessionService{}, &fakeTokenService{})
	srv.registerAPIRoutes()

	body := []byte(`{"status":"Blocked"}`)
	req := httptest.NewRequest(http.MethodPut, "/v1/auth-tokens", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
