package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	"github.com/voltgrid/voltgrid/internal/clock"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/events"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Config config.Config
	Repo   domain.Repository
	Events *events.Hub `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	cfg    config.Config
	repo   domain.Repository
	events *events.Hub
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("chargepoint.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		cfg:    p.Config,
		repo:   p.Repo,
		events: p.Events,
	}
}

func (s *Service) Register(ctx context.Context, req domain.RegisterRequest) (*domain.RegisterResult, error) {
	identity := strings.TrimSpace(req.Identity)
	if identity == "" {
		return nil, domain.ErrInvalidIdentity
	}

	now := s.clock.Now()
	existing, err := s.repo.FindByIdentity(ctx, s.db, identity)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		cp := &domain.ChargePoint{
			ID:                 s.genID.Generate(),
			Identity:           identity,
			Vendor:             req.Boot.ChargePointVendor,
			Model:              req.Boot.ChargePointModel,
			SerialNumber:       req.Boot.ChargePointSerialNumber,
			BoxSerialNumber:    req.Boot.ChargeBoxSerialNumber,
			FirmwareVersion:    req.Boot.FirmwareVersion,
			RegistrationStatus: s.initialRegistrationStatus(),
			Enabled:            true,
			LastSeenAt:         &now,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := s.repo.Insert(ctx, s.db, cp); err != nil {
			return nil, err
		}
		s.log.Info("charge point registered",
			zap.String("identity", identity),
			zap.String("status", string(cp.RegistrationStatus)),
		)
		return &domain.RegisterResult{
			ChargePoint:       cp,
			Status:            cp.RegistrationStatus,
			HeartbeatInterval: s.cfg.HeartbeatInterval,
			Created:           true,
		}, nil
	}

	status := existing.RegistrationStatus
	if !existing.Enabled {
		status = ocpp.RegistrationRejected
	}

	fields := map[string]any{"last_seen_at": now}
	if existing.Enabled {
		merge(fields, "vendor", existing.Vendor, req.Boot.ChargePointVendor)
		merge(fields, "model", existing.Model, req.Boot.ChargePointModel)
		merge(fields, "serial_number", existing.SerialNumber, req.Boot.ChargePointSerialNumber)
		merge(fields, "box_serial_number", existing.BoxSerialNumber, req.Boot.ChargeBoxSerialNumber)
		merge(fields, "firmware_version", existing.FirmwareVersion, req.Boot.FirmwareVersion)
	}
	if len(fields) > 1 {
		fields["updated_at"] = now
		if err := s.repo.Update(ctx, s.db, existing.ID, fields); err != nil {
			return nil, err
		}
		s.publish(events.Event{
			Type:          events.TypeConfigurationChanged,
			ChargePointID: existing.ID,
			Timestamp:     now,
		})
	} else if err := s.repo.Update(ctx, s.db, existing.ID, fields); err != nil {
		return nil, err
	}

	refreshed, err := s.repo.FindByID(ctx, s.db, existing.ID)
	if err != nil {
		return nil, err
	}
	return &domain.RegisterResult{
		ChargePoint:       refreshed,
		Status:            status,
		HeartbeatInterval: s.cfg.HeartbeatInterval,
	}, nil
}

// merge stages a column update only when the reported value is non-empty
// and differs from the stored one.
func merge(fields map[string]any, column, current, reported string) {
	reported = strings.TrimSpace(reported)
	if reported == "" || reported == current {
		return
	}
	fields[column] = reported
}

func (s *Service) initialRegistrationStatus() ocpp.RegistrationStatus {
	switch ocpp.RegistrationStatus(s.cfg.InitialRegistrationStatus) {
	case ocpp.RegistrationAccepted:
		return ocpp.RegistrationAccepted
	case ocpp.RegistrationRejected:
		return ocpp.RegistrationRejected
	default:
		return ocpp.RegistrationPending
	}
}

func (s *Service) Heartbeat(ctx context.Context, identity string) (time.Time, error) {
	now := s.clock.Now()
	cp, err := s.repo.FindByIdentity(ctx, s.db, strings.TrimSpace(identity))
	if err != nil {
		return now, err
	}
	if cp == nil {
		return now, domain.ErrUnknownChargePoint
	}
	err = s.repo.Update(ctx, s.db, cp.ID, map[string]any{"last_seen_at": now})
	return now, err
}

func (s *Service) UpdateConnectorStatus(ctx context.Context, update domain.StatusUpdate) error {
	notification := update.Notification
	if notification.ConnectorID < 0 {
		return domain.ErrInvalidConnector
	}

	cp, err := s.repo.FindByIdentity(ctx, s.db, strings.TrimSpace(update.Identity))
	if err != nil {
		return err
	}
	if cp == nil {
		return domain.ErrUnknownChargePoint
	}

	now := s.clock.Now()
	reportedAt := now
	if notification.Timestamp != nil {
		reportedAt = notification.Timestamp.UTC()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		targets := []int{notification.ConnectorID}
		if notification.ConnectorID == 0 {
			// A report for connector 0 describes the whole charge point.
			connectors, err := s.repo.ListConnectors(ctx, tx, cp.ID)
			if err != nil {
				return err
			}
			targets = targets[:0]
			for _, connector := range connectors {
				targets = append(targets, connector.ConnectorID)
			}
			if len(targets) == 0 {
				// Nothing to fan out to until connectors are known.
				return nil
			}
		}

		for _, connectorID := range targets {
			connector := &domain.Connector{
				ChargePointID:   cp.ID,
				ConnectorID:     connectorID,
				Status:          notification.Status,
				ErrorCode:       notification.ErrorCode,
				Info:            notification.Info,
				VendorID:        notification.VendorID,
				VendorErrorCode: notification.VendorErrorCode,
				StatusTimestamp: reportedAt,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.repo.UpsertConnector(ctx, tx, connector); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) ReconcileConnectors(ctx context.Context, chargePointID snowflake.ID, connectorCount int) error {
	if connectorCount < 0 {
		return domain.ErrInvalidConnector
	}

	cp, err := s.repo.FindByID(ctx, s.db, chargePointID)
	if err != nil {
		return err
	}
	if cp == nil {
		return domain.ErrUnknownChargePoint
	}

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.ListConnectors(ctx, tx, chargePointID)
		if err != nil {
			return err
		}
		present := make(map[int]bool, len(existing))
		for _, connector := range existing {
			present[connector.ConnectorID] = true
		}

		for connectorID := 1; connectorID <= connectorCount; connectorID++ {
			if present[connectorID] {
				continue
			}
			connector := &domain.Connector{
				ChargePointID:   chargePointID,
				ConnectorID:     connectorID,
				Status:          ocpp.StatusUnavailable,
				ErrorCode:       ocpp.ErrorCodeNoError,
				StatusTimestamp: now,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := s.repo.UpsertConnector(ctx, tx, connector); err != nil {
				return err
			}
		}

		if err := s.repo.DeleteConnectorsAbove(ctx, tx, chargePointID, connectorCount); err != nil {
			return err
		}

		return tx.WithContext(ctx).
			Model(&domain.ChargePoint{}).
			Where("id = ?", chargePointID).
			Updates(map[string]any{"connector_count": connectorCount, "updated_at": now}).Error
	})
	if err != nil {
		return err
	}

	s.publish(events.Event{
		Type:          events.TypeConfigurationChanged,
		ChargePointID: chargePointID,
		Timestamp:     now,
	})
	return nil
}

func (s *Service) GetByIdentity(ctx context.Context, identity string) (*domain.ChargePoint, error) {
	return s.repo.FindByIdentity(ctx, s.db, strings.TrimSpace(identity))
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.ChargePoint, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) ListConnectors(ctx context.Context, chargePointID snowflake.ID) ([]domain.Connector, error) {
	return s.repo.ListConnectors(ctx, s.db, chargePointID)
}

func (s *Service) ListAllConnectors(ctx context.Context) ([]domain.Connector, error) {
	return s.repo.ListAllConnectors(ctx, s.db)
}

func (s *Service) publish(event events.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(event)
}
