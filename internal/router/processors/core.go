package processors

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	authdomain "github.com/voltgrid/voltgrid/internal/authorization/domain"
	cpdomain "github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	"github.com/voltgrid/voltgrid/internal/clock"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"github.com/voltgrid/voltgrid/internal/router"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ConfigurationReader fetches configuration keys from a charge point over
// the outbound transport. Optional; without it connector reconciliation
// waits for explicit status reports.
type ConfigurationReader interface {
	ReadConfiguration(ctx context.Context, identity string, keys []string) ([]ocpp.KeyValue, error)
}

type CoreParam struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Auth     authdomain.Service
	Points   cpdomain.Service
	Sessions sessiondomain.Service
	Reader   ConfigurationReader `optional:"true"`
}

// Core handles the standard inbound action set and wires it to the
// registry, the authorization gateway and the session state machine.
type Core struct {
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.Config
	auth     authdomain.Service
	points   cpdomain.Service
	sessions sessiondomain.Service
	reader   ConfigurationReader
}

func NewCore(p CoreParam) *Core {
	return &Core{
		log:      p.Log.Named("router.core"),
		clock:    p.Clock,
		cfg:      p.Config,
		auth:     p.Auth,
		points:   p.Points,
		sessions: p.Sessions,
		reader:   p.Reader,
	}
}

func (c *Core) Actions() []ocpp.Action {
	return []ocpp.Action{
		ocpp.ActionBootNotification,
		ocpp.ActionHeartbeat,
		ocpp.ActionAuthorize,
		ocpp.ActionStatusNotification,
		ocpp.ActionStartTransaction,
		ocpp.ActionStopTransaction,
		ocpp.ActionMeterValues,
		ocpp.ActionDataTransfer,
	}
}

func (c *Core) Handle(ctx context.Context, call *router.Call) (any, error) {
	switch call.Action {
	case ocpp.ActionBootNotification:
		return c.bootNotification(ctx, call)
	case ocpp.ActionHeartbeat:
		return c.heartbeat(ctx, call)
	case ocpp.ActionAuthorize:
		return c.authorize(ctx, call)
	case ocpp.ActionStatusNotification:
		return c.statusNotification(ctx, call)
	case ocpp.ActionStartTransaction:
		return c.startTransaction(ctx, call)
	case ocpp.ActionStopTransaction:
		return c.stopTransaction(ctx, call)
	case ocpp.ActionMeterValues:
		return c.meterValues(ctx, call)
	case ocpp.ActionDataTransfer:
		// No vendor extensions.
		return ocpp.DataTransferConf{Status: ocpp.DataTransferRejected}, nil
	default:
		return nil, &router.CallError{
			Code:        router.CodeNotImplemented,
			Description: "action not handled: " + string(call.Action),
		}
	}
}

func (c *Core) bootNotification(ctx context.Context, call *router.Call) (any, error) {
	var req ocpp.BootNotificationReq
	if err := decode(call.Payload, &req); err != nil {
		return nil, err
	}

	res, err := c.points.Register(ctx, cpdomain.RegisterRequest{Identity: call.Identity, Boot: req})
	if err != nil {
		if errors.Is(err, cpdomain.ErrInvalidIdentity) {
			return nil, &router.CallError{Code: router.CodeFormationViolation, Description: err.Error()}
		}
		return nil, err
	}

	if res.Status == ocpp.RegistrationAccepted {
		go c.syncConnectorCount(res.ChargePoint)
	}

	return ocpp.BootNotificationConf{
		Status:      res.Status,
		CurrentTime: c.clock.Now(),
		Interval:    int(res.HeartbeatInterval.Seconds()),
	}, nil
}

// syncConnectorCount asks the charge point for its connector count and
// reconciles the connector rows. Best effort; status reports keep the rows
// converging regardless.
func (c *Core) syncConnectorCount(cp *cpdomain.ChargePoint) {
	if c.reader == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RoundTripTimeout)
	defer cancel()

	keys, err := c.reader.ReadConfiguration(ctx, cp.Identity, []string{ocpp.NumberOfConnectorsKey})
	if err != nil {
		c.log.Warn("configuration fetch failed",
			zap.String("identity", cp.Identity),
			zap.Error(err),
		)
		return
	}
	for _, kv := range keys {
		if kv.Key != ocpp.NumberOfConnectorsKey || kv.Value == nil {
			continue
		}
		count, err := strconv.Atoi(*kv.Value)
		if err != nil || count < 0 {
			continue
		}
		if err := c.points.ReconcileConnectors(ctx, cp.ID, count); err != nil {
			c.log.Warn("connector reconciliation failed",
				zap.String("identity", cp.Identity),
				zap.Int("count", count),
				zap.Error(err),
			)
		}
		return
	}
}

func (c *Core) heartbeat(ctx context.Context, call *router.Call) (any, error) {
	now, err := c.points.Heartbeat(ctx, call.Identity)
	if err != nil && !errors.Is(err, cpdomain.ErrUnknownChargePoint) {
		return nil, err
	}
	return ocpp.HeartbeatConf{CurrentTime: now}, nil
}

func (c *Core) authorize(ctx context.Context, call *router.Call) (any, error) {
	var req ocpp.AuthorizeReq
	if err := decode(call.Payload, &req); err != nil {
		return nil, err
	}
	info, err := c.auth.Authorize(ctx, req.IdTag)
	if err != nil {
		if errors.Is(err, authdomain.ErrInvalidIDTag) {
			return nil, &router.CallError{Code: router.CodeFormationViolation, Description: err.Error()}
		}
		return nil, err
	}
	return ocpp.AuthorizeConf{IdTagInfo: info.IdTagInfo()}, nil
}

func (c *Core) statusNotification(ctx context.Context, call *router.Call) (any, error) {
	var req ocpp.StatusNotificationReq
	if err := decode(call.Payload, &req); err != nil {
		return nil, err
	}
	err := c.points.UpdateConnectorStatus(ctx, cpdomain.StatusUpdate{Identity: call.Identity, Notification: req})
	if err != nil {
		switch {
		case errors.Is(err, cpdomain.ErrUnknownChargePoint):
			return nil, &router.CallError{Code: router.CodeGenericError, Description: err.Error()}
		case errors.Is(err, cpdomain.ErrInvalidConnector):
			return nil, &router.CallError{Code: router.CodeFormationViolation, Description: err.Error()}
		}
		return nil, err
	}
	return ocpp.StatusNotificationConf{}, nil
}

func (c *Core) startTransaction(ctx context.Context, call *router.Call) (any, error) {
	var req ocpp.StartTransactionReq
	if err := decode(call.Payload, &req); err != nil {
		return nil, err
	}
	cp, err := c.resolvePoint(ctx, call.Identity)
	if err != nil {
		return nil, err
	}

	res, err := c.sessions.Start(ctx, sessiondomain.StartRequest{
		IDTag:         req.IdTag,
		ChargePointID: cp.ID,
		ConnectorID:   req.ConnectorID,
		MeterStart:    req.MeterStart,
		Timestamp:     req.Timestamp,
	})
	if err != nil {
		// A refused tag is a normal protocol answer, not a call error.
		var authErr *sessiondomain.AuthorizationError
		if errors.As(err, &authErr) {
			return ocpp.StartTransactionConf{IdTagInfo: authErr.Info.IdTagInfo()}, nil
		}
		if errors.Is(err, sessiondomain.ErrInvalidRequest) {
			return nil, &router.CallError{Code: router.CodeFormationViolation, Description: err.Error()}
		}
		return nil, err
	}
	return ocpp.StartTransactionConf{
		IdTagInfo:     res.Info.IdTagInfo(),
		TransactionID: res.Session.TransactionID,
	}, nil
}

func (c *Core) stopTransaction(ctx context.Context, call *router.Call) (any, error) {
	var req ocpp.StopTransactionReq
	if err := decode(call.Payload, &req); err != nil {
		return nil, err
	}

	res, err := c.sessions.Stop(ctx, sessiondomain.StopRequest{
		IDTag:         req.IdTag,
		TransactionID: req.TransactionID,
		MeterStop:     req.MeterStop,
		Timestamp:     req.Timestamp,
		Reason:        req.Reason,
		Data:          req.TransactionData,
	})
	if err != nil {
		var authErr *sessiondomain.AuthorizationError
		if errors.As(err, &authErr) {
			info := authErr.Info.IdTagInfo()
			return ocpp.StopTransactionConf{IdTagInfo: &info}, nil
		}
		// An unknown or already-completed transaction still gets a
		// protocol answer; the tag is just not valid for this stop.
		if errors.Is(err, sessiondomain.ErrSessionNotFound) || errors.Is(err, sessiondomain.ErrSessionComplete) {
			return ocpp.StopTransactionConf{
				IdTagInfo: &ocpp.IdTagInfo{Status: ocpp.AuthorizationInvalid},
			}, nil
		}
		if errors.Is(err, sessiondomain.ErrInvalidRequest) {
			return nil, &router.CallError{Code: router.CodeFormationViolation, Description: err.Error()}
		}
		return nil, err
	}

	conf := ocpp.StopTransactionConf{}
	if res.Info != nil {
		info := res.Info.IdTagInfo()
		conf.IdTagInfo = &info
	}
	return conf, nil
}

func (c *Core) meterValues(ctx context.Context, call *router.Call) (any, error) {
	var req ocpp.MeterValuesReq
	if err := decode(call.Payload, &req); err != nil {
		return nil, err
	}
	cp, err := c.points.GetByIdentity(ctx, call.Identity)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		// Readings from strangers are acked and dropped.
		return ocpp.MeterValuesConf{}, nil
	}

	err = c.sessions.MergeReadings(ctx, sessiondomain.ReadingBatch{
		ChargePointID: cp.ID,
		ConnectorID:   req.ConnectorID,
		TransactionID: req.TransactionID,
		Values:        req.MeterValue,
	})
	if err != nil {
		return nil, err
	}
	return ocpp.MeterValuesConf{}, nil
}

func (c *Core) resolvePoint(ctx context.Context, identity string) (*cpdomain.ChargePoint, error) {
	cp, err := c.points.GetByIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		return nil, &router.CallError{
			Code:        router.CodeGenericError,
			Description: "unknown charge point: " + identity,
		}
	}
	return cp, nil
}

func decode(payload json.RawMessage, out any) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return &router.CallError{Code: router.CodeFormationViolation, Description: "malformed payload: " + err.Error()}
	}
	return nil
}
