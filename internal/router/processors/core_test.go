package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	authdomain "github.com/voltgrid/voltgrid/internal/authorization/domain"
	authrepo "github.com/voltgrid/voltgrid/internal/authorization/repository"
	authservice "github.com/voltgrid/voltgrid/internal/authorization/service"
	"github.com/voltgrid/voltgrid/internal/backoffice"
	cpdomain "github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	cprepo "github.com/voltgrid/voltgrid/internal/chargepoint/repository"
	cpservice "github.com/voltgrid/voltgrid/internal/chargepoint/service"
	"github.com/voltgrid/voltgrid/internal/clock"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"github.com/voltgrid/voltgrid/internal/router"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
	sessionrepo "github.com/voltgrid/voltgrid/internal/session/repository"
	sessionservice "github.com/voltgrid/voltgrid/internal/session/service"
	"github.com/voltgrid/voltgrid/internal/socketlock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newCore(t *testing.T, fake *clock.FakeClock) (*Core, authdomain.Service) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&authdomain.AuthToken{},
		&cpdomain.ChargePoint{}, &cpdomain.Connector{},
		&sessiondomain.ChargeSession{}, &sessiondomain.SampledValue{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		HeartbeatInterval:         5 * time.Minute,
		InitialRegistrationStatus: "Accepted",
		RoundTripTimeout:          5 * time.Second,
		PurgeRetentionHours:       720,
		TemperatureScale:          1,
	}

	auth := authservice.NewService(authservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: authrepo.Provide(),
	})
	points := cpservice.NewService(cpservice.ServiceParam{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Config: cfg, Repo: cprepo.Provide(),
	})
	sessions := sessionservice.NewService(sessionservice.ServiceParam{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  fake,
		Config: cfg,
		Policy: config.NewStaticPolicyHolder(config.DefaultChargingPolicy()),
		Repo:   sessionrepo.Provide(),
		Auth:   auth,
		Points: points,
		Locks:  socketlock.NewTable(),
		Poster: backoffice.NewNoopPoster(),
	})

	core := NewCore(CoreParam{
		Log:      zap.NewNop(),
		Clock:    fake,
		Config:   cfg,
		Auth:     auth,
		Points:   points,
		Sessions: sessions,
	})
	return core, auth
}

func call(t *testing.T, action ocpp.Action, payload any) *router.Call {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &router.Call{Identity: "CP1", Action: action, Payload: raw}
}

func TestCoreTransactionRoundTrip(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	core, auth := newCore(t, fake)
	ctx := context.Background()

	require.NoError(t, auth.Upsert(ctx, &authdomain.AuthToken{IDTag: "abc", Status: ocpp.AuthorizationAccepted}))

	result, err := core.Handle(ctx, call(t, ocpp.ActionBootNotification, ocpp.BootNotificationReq{
		ChargePointVendor: "VoltVendor", ChargePointModel: "VX-22",
	}))
	require.NoError(t, err)
	boot := result.(ocpp.BootNotificationConf)
	assert.Equal(t, ocpp.RegistrationAccepted, boot.Status)
	assert.Equal(t, 300, boot.Interval)

	result, err = core.Handle(ctx, call(t, ocpp.ActionStartTransaction, ocpp.StartTransactionReq{
		ConnectorID: 1, IdTag: "abc", MeterStart: 1234,
	}))
	require.NoError(t, err)
	start := result.(ocpp.StartTransactionConf)
	assert.Equal(t, ocpp.AuthorizationAccepted, start.IdTagInfo.Status)
	require.NotZero(t, start.TransactionID)

	result, err = core.Handle(ctx, call(t, ocpp.ActionMeterValues, ocpp.MeterValuesReq{
		ConnectorID:   1,
		TransactionID: &start.TransactionID,
		MeterValue: []ocpp.MeterValue{{
			Timestamp:    fake.Now().Add(time.Minute),
			SampledValue: []ocpp.SampledValue{{Value: "1300", Unit: ocpp.UnitWh}},
		}},
	}))
	require.NoError(t, err)
	assert.IsType(t, ocpp.MeterValuesConf{}, result)

	result, err = core.Handle(ctx, call(t, ocpp.ActionStopTransaction, ocpp.StopTransactionReq{
		IdTag: "abc", TransactionID: start.TransactionID, MeterStop: 1500,
	}))
	require.NoError(t, err)
	stop := result.(ocpp.StopTransactionConf)
	require.NotNil(t, stop.IdTagInfo)
	assert.Equal(t, ocpp.AuthorizationAccepted, stop.IdTagInfo.Status)
}

func TestCoreStartWithBlockedTag(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	core, auth := newCore(t, fake)
	ctx := context.Background()

	require.NoError(t, auth.Upsert(ctx, &authdomain.AuthToken{IDTag: "bad", Status: ocpp.AuthorizationBlocked}))
	_, err := core.Handle(ctx, call(t, ocpp.ActionBootNotification, ocpp.BootNotificationReq{
		ChargePointVendor: "VoltVendor", ChargePointModel: "VX-22",
	}))
	require.NoError(t, err)

	result, err := core.Handle(ctx, call(t, ocpp.ActionStartTransaction, ocpp.StartTransactionReq{
		ConnectorID: 1, IdTag: "bad", MeterStart: 0,
	}))
	require.NoError(t, err, "a refused tag is a protocol answer, not a call error")
	conf := result.(ocpp.StartTransactionConf)
	assert.Equal(t, ocpp.AuthorizationBlocked, conf.IdTagInfo.Status)
	assert.Zero(t, conf.TransactionID)
}

func TestCoreStopUnknownTransaction(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	core, _ := newCore(t, fake)

	result, err := core.Handle(context.Background(), call(t, ocpp.ActionStopTransaction, ocpp.StopTransactionReq{
		TransactionID: 424242, MeterStop: 10,
	}))
	require.NoError(t, err)
	conf := result.(ocpp.StopTransactionConf)
	require.NotNil(t, conf.IdTagInfo)
	assert.Equal(t, ocpp.AuthorizationInvalid, conf.IdTagInfo.Status)
}

func TestCoreDataTransferAlwaysRejected(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	core, _ := newCore(t, fake)

	result, err := core.Handle(context.Background(), call(t, ocpp.ActionDataTransfer, ocpp.DataTransferReq{VendorID: "acme"}))
	require.NoError(t, err)
	assert.Equal(t, ocpp.DataTransferRejected, result.(ocpp.DataTransferConf).Status)
}

func TestCoreMalformedPayload(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	core, _ := newCore(t, fake)

	_, err := core.Handle(context.Background(), &router.Call{
		Identity: "CP1",
		Action:   ocpp.ActionStartTransaction,
		Payload:  json.RawMessage(`{"connectorId": "not a number"}`),
	})
	var callErr *router.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, router.CodeFormationViolation, callErr.Code)
}

func TestCoreStartUnknownChargePoint(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	core, auth := newCore(t, fake)
	ctx := context.Background()
	require.NoError(t, auth.Upsert(ctx, &authdomain.AuthToken{IDTag: "abc", Status: ocpp.AuthorizationAccepted}))

	_, err := core.Handle(ctx, call(t, ocpp.ActionStartTransaction, ocpp.StartTransactionReq{
		ConnectorID: 1, IdTag: "abc", MeterStart: 0,
	}))
	var callErr *router.CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, router.CodeGenericError, callErr.Code)
}
