package availability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cpdomain "github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	cprepo "github.com/voltgrid/voltgrid/internal/chargepoint/repository"
	cpservice "github.com/voltgrid/voltgrid/internal/chargepoint/service"
	"github.com/voltgrid/voltgrid/internal/clock"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubBackend struct {
	name      string
	available bool
	err       error
	calls     []stubCall
}

type stubCall struct {
	identity    string
	connectorID int
	on          bool
}

func (b *stubBackend) Name() string { return b.name }

func (b *stubBackend) IsLocallyAvailable(context.Context, string) bool { return b.available }

func (b *stubBackend) ChangeAvailability(_ context.Context, identity string, connectorID int, on bool) error {
	b.calls = append(b.calls, stubCall{identity: identity, connectorID: connectorID, on: on})
	return b.err
}

func newPoints(t *testing.T) cpdomain.Service {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&cpdomain.ChargePoint{}, &cpdomain.Connector{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return cpservice.NewService(cpservice.ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		Config: config.Config{
			HeartbeatInterval:         5 * time.Minute,
			InitialRegistrationStatus: "Accepted",
		},
		Repo: cprepo.Provide(),
	})
}

func testConfig() config.Config {
	return config.Config{
		ControlIDTemplate: "voltgrid:%s:%d",
		ControlIDPattern:  `^voltgrid:([^:]+):(\d+)$`,
		SourceIDTemplate:  "voltgrid:%s",
		RoundTripTimeout:  time.Second,
	}
}

func newService(t *testing.T, points cpdomain.Service, backends ...Backend) *Service {
	t.Helper()
	svc, err := NewService(ServiceParam{
		Log:      zap.NewNop(),
		Config:   testConfig(),
		Points:   points,
		Backends: backends,
	})
	require.NoError(t, err)
	return svc
}

func register(t *testing.T, points cpdomain.Service, identity string, connectors int) *cpdomain.ChargePoint {
	t.Helper()
	res, err := points.Register(context.Background(), cpdomain.RegisterRequest{
		Identity: identity,
		Boot:     ocpp.BootNotificationReq{ChargePointVendor: "VoltVendor", ChargePointModel: "VX-22"},
	})
	require.NoError(t, err)
	require.NoError(t, points.ReconcileConnectors(context.Background(), res.ChargePoint.ID, connectors))
	return res.ChargePoint
}

func TestTemplatePatternMustBeInverse(t *testing.T) {
	_, err := NewService(ServiceParam{
		Log: zap.NewNop(),
		Config: config.Config{
			ControlIDTemplate: "voltgrid:%s:%d",
			ControlIDPattern:  `^other:([^:]+):(\d+)$`,
			RoundTripTimeout:  time.Second,
		},
		Points: newPoints(t),
	})
	assert.ErrorIs(t, err, ErrTemplateMismatch)
}

func TestParseFormatRoundTrip(t *testing.T) {
	svc := newService(t, newPoints(t))

	id := svc.FormatControlID("CP-12", 3)
	assert.Equal(t, "voltgrid:CP-12:3", id)

	identity, connector, ok := svc.ParseControlID(id)
	require.True(t, ok)
	assert.Equal(t, "CP-12", identity)
	assert.Equal(t, 3, connector)

	_, _, ok = svc.ParseControlID("lamp:kitchen:1")
	assert.False(t, ok)
}

func TestHandleCommandOutcomes(t *testing.T) {
	points := newPoints(t)
	register(t, points, "CP1", 2)

	t.Run("completed", func(t *testing.T) {
		backend := &stubBackend{name: "ws", available: true}
		svc := newService(t, points, backend)

		outcome := svc.HandleCommand(context.Background(), "voltgrid:CP1:1", false)
		assert.Equal(t, OutcomeCompleted, outcome)
		require.Len(t, backend.calls, 1)
		assert.Equal(t, stubCall{identity: "CP1", connectorID: 1, on: false}, backend.calls[0])
	})

	t.Run("backend failure declines", func(t *testing.T) {
		backend := &stubBackend{name: "ws", available: true, err: errors.New("socket closed")}
		svc := newService(t, points, backend)
		assert.Equal(t, OutcomeDeclined, svc.HandleCommand(context.Background(), "voltgrid:CP1:1", true))
	})

	t.Run("no reachable backend declines", func(t *testing.T) {
		backend := &stubBackend{name: "ws", available: false}
		svc := newService(t, points, backend)
		assert.Equal(t, OutcomeDeclined, svc.HandleCommand(context.Background(), "voltgrid:CP1:1", true))
		assert.Empty(t, backend.calls)
	})

	t.Run("unknown charge point declines", func(t *testing.T) {
		svc := newService(t, points, &stubBackend{name: "ws", available: true})
		assert.Equal(t, OutcomeDeclined, svc.HandleCommand(context.Background(), "voltgrid:CP-ghost:1", true))
	})

	t.Run("foreign id ignored", func(t *testing.T) {
		svc := newService(t, points, &stubBackend{name: "ws", available: true})
		assert.Equal(t, OutcomeIgnored, svc.HandleCommand(context.Background(), "lamp:kitchen:1", true))
	})
}

func TestBackendsTriedInOrder(t *testing.T) {
	points := newPoints(t)
	register(t, points, "CP1", 1)

	unreachable := &stubBackend{name: "primary", available: false}
	reachable := &stubBackend{name: "secondary", available: true}
	svc := newService(t, points, unreachable, reachable)

	outcome := svc.HandleCommand(context.Background(), "voltgrid:CP1:1", true)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Empty(t, unreachable.calls)
	assert.Len(t, reachable.calls, 1)
}

func TestControlIDsEnumeratesConnectors(t *testing.T) {
	points := newPoints(t)
	register(t, points, "CP1", 2)
	register(t, points, "CP2", 1)

	svc := newService(t, points)
	ids, err := svc.ControlIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"voltgrid:CP1:1", "voltgrid:CP1:2", "voltgrid:CP2:1",
	}, ids)
}

func TestControlsCarrySourceID(t *testing.T) {
	points := newPoints(t)
	register(t, points, "CP1", 2)

	svc := newService(t, points)
	controls, err := svc.Controls(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []Control{
		{SourceID: "voltgrid:CP1", ControlID: "voltgrid:CP1:1"},
		{SourceID: "voltgrid:CP1", ControlID: "voltgrid:CP1:2"},
	}, controls)
}

func TestSourceTemplateMustEmbedIdentity(t *testing.T) {
	_, err := NewService(ServiceParam{
		Log: zap.NewNop(),
		Config: config.Config{
			ControlIDTemplate: "voltgrid:%s:%d",
			ControlIDPattern:  `^voltgrid:([^:]+):(\d+)$`,
			SourceIDTemplate:  "voltgrid",
			RoundTripTimeout:  time.Second,
		},
		Points: newPoints(t),
	})
	assert.ErrorIs(t, err, ErrSourceTemplateInvalid)
}

func TestRegistryBackendWritesConnectorStatus(t *testing.T) {
	points := newPoints(t)
	cp := register(t, points, "CP1", 1)

	svc := newService(t, points, NewRegistryBackend(zap.NewNop(), points))
	require.Equal(t, OutcomeCompleted, svc.HandleCommand(context.Background(), "voltgrid:CP1:1", false))

	connectors, err := points.ListConnectors(context.Background(), cp.ID)
	require.NoError(t, err)
	require.Len(t, connectors, 1)
	assert.Equal(t, ocpp.StatusUnavailable, connectors[0].Status)
}
