package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/voltgrid/voltgrid/internal/authorization/domain"
	"github.com/voltgrid/voltgrid/internal/backoffice"
	cpdomain "github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	"github.com/voltgrid/voltgrid/internal/clock"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/events"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"github.com/voltgrid/voltgrid/internal/session/domain"
	"github.com/voltgrid/voltgrid/internal/socketlock"
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
	Policy *config.ChargingPolicyHolder
	Repo   domain.Repository
	Auth   authdomain.Service
	Points cpdomain.Service
	Locks  *socketlock.Table
	Poster backoffice.Poster
	Events *events.Hub `optional:"true"`
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	cfg    config.Config
	policy *config.ChargingPolicyHolder
	repo   domain.Repository
	auth   authdomain.Service
	points cpdomain.Service
	locks  *socketlock.Table
	poster backoffice.Poster
	events *events.Hub

	pushMu     sync.Mutex
	pushMarker map[snowflake.ID]time.Time
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("session.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		cfg:        p.Config,
		policy:     p.Policy,
		repo:       p.Repo,
		auth:       p.Auth,
		points:     p.Points,
		locks:      p.Locks,
		poster:     p.Poster,
		events:     p.Events,
		pushMarker: make(map[snowflake.ID]time.Time),
	}
}

func (s *Service) Start(ctx context.Context, req domain.StartRequest) (*domain.StartResult, error) {
	if req.IDTag == "" || req.ConnectorID < 1 || req.ChargePointID == 0 {
		return nil, domain.ErrInvalidRequest
	}

	key := socketlock.Key{ChargePointID: req.ChargePointID, ConnectorID: req.ConnectorID}
	token, ok := s.locks.Acquire(key)
	if !ok {
		return nil, domain.NewAuthorizationError(req.IDTag, ocpp.AuthorizationConcurrentTx)
	}

	now := s.clock.Now()
	startedAt := now
	if req.Timestamp != nil {
		startedAt = req.Timestamp.UTC()
	}

	var result *domain.StartResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindIncomplete(ctx, tx, req.ChargePointID, req.ConnectorID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.NewAuthorizationError(req.IDTag, ocpp.AuthorizationConcurrentTx)
		}

		info, err := s.auth.Authorize(ctx, req.IDTag)
		if err != nil {
			return err
		}
		if !info.Accepted() {
			return &domain.AuthorizationError{Info: info}
		}

		session := &domain.ChargeSession{
			ID:            s.genID.Generate(),
			IDTag:         req.IDTag,
			ChargePointID: req.ChargePointID,
			ConnectorID:   req.ConnectorID,
			MeterStart:    req.MeterStart,
			StartedAt:     startedAt,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.repo.Insert(ctx, tx, session); err != nil {
			return err
		}

		begin := s.energyReading(session.ID, startedAt, ocpp.ContextTransactionBegin, req.MeterStart, now)
		if err := s.repo.InsertReadings(ctx, tx, []domain.SampledValue{begin}); err != nil {
			return err
		}

		result = &domain.StartResult{Session: session, Info: info}
		return nil
	})
	s.locks.Release(key, token)
	if err != nil {
		return nil, err
	}

	s.publish(events.TypeSessionStarted, result.Session, now)
	s.publish(events.TypeSocketActivated, result.Session, now)

	// Handshake with the back office after commit, lock already released.
	// A failure here leaves the session with transaction id 0; the offline
	// posting job retries it.
	if err := s.confirmStart(ctx, result.Session); err != nil {
		s.log.Warn("start handshake failed, session stays unconfirmed",
			zap.Int64("session_id", int64(result.Session.ID)),
			zap.Error(err),
		)
	}
	return result, nil
}

// confirmStart posts the session start and records the assigned
// transaction id.
func (s *Service) confirmStart(ctx context.Context, session *domain.ChargeSession) error {
	postCtx, cancel := context.WithTimeout(ctx, s.cfg.RoundTripTimeout)
	defer cancel()

	ack, err := s.poster.PostStart(postCtx, backoffice.StartNotice{
		SessionID:   session.ID,
		Identity:    s.pointIdentity(ctx, session.ChargePointID),
		ConnectorID: session.ConnectorID,
		IDTag:       session.IDTag,
		MeterStart:  session.MeterStart,
		Timestamp:   session.StartedAt,
	})
	if err != nil {
		return err
	}

	fields := map[string]any{"transaction_id": ack.TransactionID, "updated_at": s.clock.Now()}
	if err := s.repo.Update(ctx, s.db, session.ID, fields); err != nil {
		return err
	}
	session.TransactionID = ack.TransactionID
	return nil
}

func (s *Service) Stop(ctx context.Context, req domain.StopRequest) (*domain.StopResult, error) {
	session, err := s.locate(ctx, req)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if session.Complete() {
		return nil, domain.ErrSessionComplete
	}

	info, err := s.checkStopTag(ctx, session, req.IDTag)
	if err != nil {
		return nil, err
	}

	key := socketlock.Key{ChargePointID: session.ChargePointID, ConnectorID: session.ConnectorID}
	token, ok := s.locks.Acquire(key)
	if !ok {
		return nil, domain.NewAuthorizationError(req.IDTag, ocpp.AuthorizationConcurrentTx)
	}

	now := s.clock.Now()
	endedAt := now
	if req.Timestamp != nil {
		endedAt = req.Timestamp.UTC()
	}
	reason := req.Reason
	if reason == "" {
		reason = ocpp.ReasonLocal
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByID(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrSessionNotFound
		}
		if current.Complete() {
			return domain.ErrSessionComplete
		}

		fields := map[string]any{
			"ended_at":    endedAt,
			"meter_stop":  req.MeterStop,
			"stop_reason": reason,
			"updated_at":  now,
		}
		if err := s.repo.Update(ctx, tx, session.ID, fields); err != nil {
			return err
		}
		session.EndedAt = &endedAt
		session.MeterStop = &req.MeterStop
		session.StopReason = reason
		session.UpdatedAt = now

		end := s.energyReading(session.ID, endedAt, ocpp.ContextTransactionEnd, req.MeterStop, now)
		readings := []domain.SampledValue{end}
		readings = append(readings, s.collectReadings(session.ID, req.Data, now)...)
		return s.mergeInto(ctx, tx, session.ID, readings)
	})
	s.locks.Release(key, token)
	if err != nil {
		return nil, err
	}

	s.publish(events.TypeSessionEnded, session, now)
	s.publish(events.TypeSocketDeactivated, session, now)

	// The stop is durable locally; a failed post only delays posted_at
	// until the offline job catches up.
	if err := s.confirmStop(ctx, session); err != nil {
		s.log.Warn("stop handshake failed, session stays unposted",
			zap.Int64("session_id", int64(session.ID)),
			zap.Error(err),
		)
	}

	return &domain.StopResult{Session: session, Info: info}, nil
}

// checkStopTag validates the stopping tag against the session owner. Tags
// may differ when both resolve to the same parent token.
func (s *Service) checkStopTag(ctx context.Context, session *domain.ChargeSession, idTag string) (*authdomain.Info, error) {
	if idTag == "" {
		// Station-initiated stop, no tag presented.
		return nil, nil
	}

	info, err := s.auth.Authorize(ctx, idTag)
	if err != nil {
		return nil, err
	}
	if !info.Accepted() {
		return nil, &domain.AuthorizationError{Info: info}
	}
	if idTag == session.IDTag {
		return &info, nil
	}

	owner, err := s.auth.Authorize(ctx, session.IDTag)
	if err != nil {
		return nil, err
	}
	if info.ParentIDTag == "" || info.ParentIDTag != owner.ParentIDTag {
		return nil, domain.NewAuthorizationError(idTag, ocpp.AuthorizationInvalid)
	}
	return &info, nil
}

// confirmStop posts the completed session, first confirming the start when
// the back office never assigned a transaction id.
func (s *Service) confirmStop(ctx context.Context, session *domain.ChargeSession) error {
	if session.TransactionID == 0 {
		if err := s.confirmStart(ctx, session); err != nil {
			return err
		}
	}

	postCtx, cancel := context.WithTimeout(ctx, s.cfg.RoundTripTimeout)
	defer cancel()

	var meterStop int64
	if session.MeterStop != nil {
		meterStop = *session.MeterStop
	}
	endedAt := s.clock.Now()
	if session.EndedAt != nil {
		endedAt = *session.EndedAt
	}
	err := s.poster.PostStop(postCtx, backoffice.StopNotice{
		SessionID:     session.ID,
		TransactionID: session.TransactionID,
		Identity:      s.pointIdentity(ctx, session.ChargePointID),
		IDTag:         session.IDTag,
		MeterStop:     meterStop,
		Timestamp:     endedAt,
		Reason:        session.StopReason,
	})
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if err := s.repo.Update(ctx, s.db, session.ID, map[string]any{"posted_at": now, "updated_at": now}); err != nil {
		return err
	}
	session.PostedAt = &now
	return nil
}

func (s *Service) MergeReadings(ctx context.Context, batch domain.ReadingBatch) error {
	if len(batch.Values) == 0 {
		return nil
	}

	key := socketlock.Key{ChargePointID: batch.ChargePointID, ConnectorID: batch.ConnectorID}
	if s.locks.Held(key) {
		// A start/stop transition is in flight; a sample taken now could
		// land on the wrong session or duplicate a synthesized reading.
		s.log.Debug("dropping readings for socket in transition",
			zap.Int64("charge_point_id", int64(batch.ChargePointID)),
			zap.Int("connector_id", batch.ConnectorID),
		)
		return nil
	}

	session, err := s.resolveBatchSession(ctx, batch)
	if err != nil {
		return err
	}
	if session == nil || session.Complete() {
		// Protocol-wise the batch is still acked; there is just nothing
		// to attach it to.
		return nil
	}

	now := s.clock.Now()
	readings := s.collectReadings(session.ID, batch.Values, now)
	if len(readings) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.mergeInto(ctx, tx, session.ID, readings)
	})
}

func (s *Service) resolveBatchSession(ctx context.Context, batch domain.ReadingBatch) (*domain.ChargeSession, error) {
	if batch.TransactionID != nil && *batch.TransactionID != 0 {
		return s.repo.FindByTransactionID(ctx, s.db, *batch.TransactionID)
	}
	return s.repo.FindIncomplete(ctx, s.db, batch.ChargePointID, batch.ConnectorID)
}

// mergeInto persists the set difference between readings and what is
// already stored. Duplicate delivery of the same batch is a no-op.
func (s *Service) mergeInto(ctx context.Context, tx *gorm.DB, sessionID snowflake.ID, readings []domain.SampledValue) error {
	existing, err := s.repo.ListReadings(ctx, tx, sessionID)
	if err != nil {
		return err
	}
	seen := make(map[domain.Identity]struct{}, len(existing))
	for _, reading := range existing {
		seen[reading.IdentityKey()] = struct{}{}
	}

	fresh := readings[:0]
	for _, reading := range readings {
		key := reading.IdentityKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, reading)
	}
	return s.repo.InsertReadings(ctx, tx, fresh)
}

// collectReadings flattens and normalizes a protocol meter-value batch.
func (s *Service) collectReadings(sessionID snowflake.ID, values []ocpp.MeterValue, now time.Time) []domain.SampledValue {
	var readings []domain.SampledValue
	for _, mv := range values {
		for _, sv := range mv.SampledValue {
			normalized := normalizeSampled(sv, s.cfg.TemperatureScale)
			context := normalized.Context
			if context == "" {
				context = ocpp.ContextSamplePeriodic
			}
			measurand := normalized.Measurand
			if measurand == "" {
				measurand = ocpp.MeasurandEnergyActiveImportRegister
			}
			readings = append(readings, domain.SampledValue{
				SessionID: sessionID,
				Timestamp: mv.Timestamp.UTC(),
				Context:   context,
				Measurand: measurand,
				Phase:     normalized.Phase,
				Location:  normalized.Location,
				Value:     normalized.Value,
				Unit:      normalized.Unit,
				Format:    normalized.Format,
				CreatedAt: now,
			})
		}
	}
	return readings
}

func (s *Service) energyReading(sessionID snowflake.ID, ts time.Time, context ocpp.ReadingContext, wh int64, now time.Time) domain.SampledValue {
	return domain.SampledValue{
		SessionID: sessionID,
		Timestamp: ts.UTC(),
		Context:   context,
		Measurand: ocpp.MeasurandEnergyActiveImportRegister,
		Value:     strconv.FormatInt(wh, 10),
		Unit:      ocpp.UnitWh,
		CreatedAt: now,
	}
}

func (s *Service) locate(ctx context.Context, req domain.StopRequest) (*domain.ChargeSession, error) {
	if req.TransactionID != 0 {
		return s.repo.FindByTransactionID(ctx, s.db, req.TransactionID)
	}
	if req.SessionID != 0 {
		return s.repo.FindByID(ctx, s.db, req.SessionID)
	}
	return nil, domain.ErrInvalidRequest
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.ChargeSession, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) Readings(ctx context.Context, sessionID snowflake.ID) ([]domain.SampledValue, error) {
	return s.repo.ListReadings(ctx, s.db, sessionID)
}

func (s *Service) pointIdentity(ctx context.Context, chargePointID snowflake.ID) string {
	cp, err := s.points.GetByID(ctx, chargePointID)
	if err != nil || cp == nil {
		return ""
	}
	return cp.Identity
}

func (s *Service) publish(eventType events.Type, session *domain.ChargeSession, ts time.Time) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{
		Type:          eventType,
		SessionID:     session.ID,
		ChargePointID: session.ChargePointID,
		ConnectorID:   session.ConnectorID,
		Timestamp:     ts,
	})
}
