package availability

import (
	"context"

	cpdomain "github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"go.uber.org/zap"
)

// registryBackend applies availability changes directly to the connector
// registry. It is the fallback backend when no transport to the physical
// charge point is wired in; a later status report from the station
// overrides whatever it wrote.
type registryBackend struct {
	log    *zap.Logger
	points cpdomain.Service
}

func NewRegistryBackend(log *zap.Logger, points cpdomain.Service) Backend {
	return &registryBackend{
		log:    log.Named("availability.registry"),
		points: points,
	}
}

func (b *registryBackend) Name() string { return "registry" }

func (b *registryBackend) IsLocallyAvailable(ctx context.Context, identity string) bool {
	cp, err := b.points.GetByIdentity(ctx, identity)
	return err == nil && cp != nil && cp.Enabled
}

func (b *registryBackend) ChangeAvailability(ctx context.Context, identity string, connectorID int, available bool) error {
	status := ocpp.StatusUnavailable
	if available {
		status = ocpp.StatusAvailable
	}
	return b.points.UpdateConnectorStatus(ctx, cpdomain.StatusUpdate{
		Identity: identity,
		Notification: ocpp.StatusNotificationReq{
			ConnectorID: connectorID,
			Status:      status,
			ErrorCode:   ocpp.ErrorCodeNoError,
		},
	})
}
