package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	"github.com/voltgrid/voltgrid/internal/chargepoint/repository"
	"github.com/voltgrid/voltgrid/internal/clock"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/events"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, fake *clock.FakeClock) (domain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.ChargePoint{}, &domain.Connector{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Config: config.Config{
			HeartbeatInterval:         5 * time.Minute,
			InitialRegistrationStatus: "Pending",
		},
		Repo:   repository.Provide(),
		Events: events.NewHub(),
	})
	return svc, db
}

func boot(vendor, model string) ocpp.BootNotificationReq {
	return ocpp.BootNotificationReq{
		ChargePointVendor: vendor,
		ChargePointModel:  model,
		FirmwareVersion:   "1.0.0",
	}
}

func TestRegisterFirstContact(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fake)

	res, err := svc.Register(context.Background(), domain.RegisterRequest{
		Identity: "CP-001",
		Boot:     boot("VoltVendor", "VX-22"),
	})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, ocpp.RegistrationPending, res.Status)
	assert.Equal(t, 5*time.Minute, res.HeartbeatInterval)
	assert.Equal(t, "VoltVendor", res.ChargePoint.Vendor)
	require.NotNil(t, res.ChargePoint.LastSeenAt)
	assert.Equal(t, fake.Now(), res.ChargePoint.LastSeenAt.UTC())
}

func TestRegisterMergesChangedFields(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	first, err := svc.Register(ctx, domain.RegisterRequest{Identity: "CP-001", Boot: boot("VoltVendor", "VX-22")})
	require.NoError(t, err)

	fake.Advance(time.Hour)
	req := domain.RegisterRequest{Identity: "CP-001", Boot: boot("VoltVendor", "VX-22")}
	req.Boot.FirmwareVersion = "1.1.0"
	second, err := svc.Register(ctx, req)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.ChargePoint.ID, second.ChargePoint.ID)
	assert.Equal(t, "1.1.0", second.ChargePoint.FirmwareVersion)
	require.NotNil(t, second.ChargePoint.LastSeenAt)
	assert.Equal(t, fake.Now(), second.ChargePoint.LastSeenAt.UTC())
}

func TestRegisterDisabledPointRejected(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, db := newTestService(t, fake)
	ctx := context.Background()

	res, err := svc.Register(ctx, domain.RegisterRequest{Identity: "CP-001", Boot: boot("VoltVendor", "VX-22")})
	require.NoError(t, err)

	require.NoError(t, db.Model(&domain.ChargePoint{}).
		Where("id = ?", res.ChargePoint.ID).
		Update("enabled", false).Error)

	again, err := svc.Register(ctx, domain.RegisterRequest{Identity: "CP-001", Boot: boot("Other", "VX-23")})
	require.NoError(t, err)
	assert.Equal(t, ocpp.RegistrationRejected, again.Status)
	assert.Equal(t, "VoltVendor", again.ChargePoint.Vendor, "disabled points must not absorb reported fields")
}

func TestRegisterBlankIdentity(t *testing.T) {
	fake := clock.NewFakeClock(time.Now())
	svc, _ := newTestService(t, fake)

	_, err := svc.Register(context.Background(), domain.RegisterRequest{Identity: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestHeartbeatTouchesLastSeen(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	_, err := svc.Register(ctx, domain.RegisterRequest{Identity: "CP-001", Boot: boot("VoltVendor", "VX-22")})
	require.NoError(t, err)

	fake.Advance(10 * time.Minute)
	now, err := svc.Heartbeat(ctx, "CP-001")
	require.NoError(t, err)
	assert.Equal(t, fake.Now(), now)

	cp, err := svc.GetByIdentity(ctx, "CP-001")
	require.NoError(t, err)
	require.NotNil(t, cp.LastSeenAt)
	assert.Equal(t, fake.Now(), cp.LastSeenAt.UTC())

	_, err = svc.Heartbeat(ctx, "CP-missing")
	assert.ErrorIs(t, err, domain.ErrUnknownChargePoint)
}

func TestReconcileConnectors(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	res, err := svc.Register(ctx, domain.RegisterRequest{Identity: "CP-001", Boot: boot("VoltVendor", "VX-22")})
	require.NoError(t, err)

	require.NoError(t, svc.ReconcileConnectors(ctx, res.ChargePoint.ID, 3))
	connectors, err := svc.ListConnectors(ctx, res.ChargePoint.ID)
	require.NoError(t, err)
	require.Len(t, connectors, 3)
	for i, connector := range connectors {
		assert.Equal(t, i+1, connector.ConnectorID)
		assert.Equal(t, ocpp.StatusUnavailable, connector.Status)
	}

	// Shrinking drops the excess rows and keeps the rest untouched.
	require.NoError(t, svc.UpdateConnectorStatus(ctx, domain.StatusUpdate{
		Identity: "CP-001",
		Notification: ocpp.StatusNotificationReq{
			ConnectorID: 1,
			Status:      ocpp.StatusAvailable,
			ErrorCode:   ocpp.ErrorCodeNoError,
		},
	}))
	require.NoError(t, svc.ReconcileConnectors(ctx, res.ChargePoint.ID, 2))

	connectors, err = svc.ListConnectors(ctx, res.ChargePoint.ID)
	require.NoError(t, err)
	require.Len(t, connectors, 2)
	assert.Equal(t, ocpp.StatusAvailable, connectors[0].Status)

	cp, err := svc.GetByID(ctx, res.ChargePoint.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cp.ConnectorCount)
}

func TestConnectorZeroFansOut(t *testing.T) {
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	res, err := svc.Register(ctx, domain.RegisterRequest{Identity: "CP-001", Boot: boot("VoltVendor", "VX-22")})
	require.NoError(t, err)
	require.NoError(t, svc.ReconcileConnectors(ctx, res.ChargePoint.ID, 2))

	require.NoError(t, svc.UpdateConnectorStatus(ctx, domain.StatusUpdate{
		Identity: "CP-001",
		Notification: ocpp.StatusNotificationReq{
			ConnectorID: 0,
			Status:      ocpp.StatusFaulted,
			ErrorCode:   ocpp.ErrorCodePowerMeterFailure,
		},
	}))

	connectors, err := svc.ListConnectors(ctx, res.ChargePoint.ID)
	require.NoError(t, err)
	require.Len(t, connectors, 2)
	for _, connector := range connectors {
		assert.Equal(t, ocpp.StatusFaulted, connector.Status)
		assert.Equal(t, ocpp.ErrorCodePowerMeterFailure, connector.ErrorCode)
	}
}

func TestUpdateConnectorStatusValidation(t *testing.T) {
	fake := clock.NewFakeClock(time.Now())
	svc, _ := newTestService(t, fake)
	ctx := context.Background()

	err := svc.UpdateConnectorStatus(ctx, domain.StatusUpdate{
		Identity:     "CP-missing",
		Notification: ocpp.StatusNotificationReq{ConnectorID: 1, Status: ocpp.StatusAvailable},
	})
	assert.ErrorIs(t, err, domain.ErrUnknownChargePoint)

	err = svc.UpdateConnectorStatus(ctx, domain.StatusUpdate{
		Identity:     "CP-001",
		Notification: ocpp.StatusNotificationReq{ConnectorID: -1, Status: ocpp.StatusAvailable},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidConnector)
}
