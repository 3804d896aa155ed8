package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/backoffice"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"github.com/voltgrid/voltgrid/internal/session/domain"
	"go.uber.org/zap"
)

// PostOfflineSessions retries the back-office handshake for sessions that
// were created or completed while the controller was unreachable. Per-item
// failures are logged and the batch continues.
func (s *Service) PostOfflineSessions(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	sessions, err := s.repo.ListUnposted(ctx, s.db, batchSize)
	if err != nil {
		return err
	}

	for i := range sessions {
		session := &sessions[i]
		if session.TransactionID == 0 {
			if err := s.confirmStart(ctx, session); err != nil {
				s.log.Warn("offline start post failed",
					zap.Int64("session_id", int64(session.ID)),
					zap.Error(err),
				)
				continue
			}
		}
		if session.Complete() && session.PostedAt == nil {
			if err := s.confirmStop(ctx, session); err != nil {
				s.log.Warn("offline stop post failed",
					zap.Int64("session_id", int64(session.ID)),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// CloseStaleSessions closes sessions that look abandoned: nothing metered
// inside the staleness window, or a trailing energy delta below the
// near-zero threshold. The policy is operator configuration, hot-reloaded.
func (s *Service) CloseStaleSessions(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	policy := s.policy.Get()
	now := s.clock.Now()

	sessions, err := s.repo.ListIncomplete(ctx, s.db, batchSize)
	if err != nil {
		return err
	}

	for i := range sessions {
		session := &sessions[i]
		stale, flat, meterStop, err := s.assessSession(ctx, session, now, policy.StalenessWindow, policy.EnergyDeltaThresholdWh, policy.EnergySampleCount)
		if err != nil {
			s.log.Warn("stale assessment failed",
				zap.Int64("session_id", int64(session.ID)),
				zap.Error(err),
			)
			continue
		}
		if !stale && !flat {
			continue
		}

		_, err = s.Stop(ctx, domain.StopRequest{
			SessionID: session.ID,
			MeterStop: meterStop,
			Reason:    ocpp.ReasonOther,
		})
		if err != nil {
			s.log.Warn("auto close failed",
				zap.Int64("session_id", int64(session.ID)),
				zap.Error(err),
			)
			continue
		}
		s.log.Info("auto closed abandoned session",
			zap.Int64("session_id", int64(session.ID)),
			zap.Bool("stale", stale),
			zap.Bool("flat_energy", flat),
		)
	}
	return nil
}

// assessSession decides whether a session qualifies for auto-close and
// picks the meter-stop value from its newest energy reading.
func (s *Service) assessSession(ctx context.Context, session *domain.ChargeSession, now time.Time, window time.Duration, thresholdWh int64, sampleCount int) (stale, flat bool, meterStop int64, err error) {
	meterStop = session.MeterStart

	latest, err := s.repo.LatestReadingTime(ctx, s.db, session.ID)
	if err != nil {
		return false, false, 0, err
	}
	newest := session.StartedAt
	if latest != nil {
		newest = *latest
	}
	stale = now.Sub(newest) > window

	if sampleCount > 0 {
		recent, err := s.repo.ListRecentEnergyReadings(ctx, s.db, session.ID, sampleCount)
		if err != nil {
			return false, false, 0, err
		}
		if len(recent) > 0 {
			if wh, ok := energyWh(recent[0].Value); ok {
				meterStop = wh
			}
		}
		if len(recent) >= sampleCount {
			newestWh, okNew := energyWh(recent[0].Value)
			oldestWh, okOld := energyWh(recent[len(recent)-1].Value)
			if okNew && okOld {
				delta := newestWh - oldestWh
				if delta < 0 {
					delta = -delta
				}
				flat = delta < thresholdWh
			}
		}
	}
	return stale, flat, meterStop, nil
}

// PushPeriodicReadings forwards readings of confirmed active sessions that
// arrived since the previous push.
func (s *Service) PushPeriodicReadings(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	sessions, err := s.repo.ListActiveConfirmed(ctx, s.db, batchSize)
	if err != nil {
		return err
	}

	for i := range sessions {
		session := &sessions[i]
		since := s.marker(session.ID, session.StartedAt)
		readings, err := s.repo.ListReadingsSince(ctx, s.db, session.ID, since)
		if err != nil {
			s.log.Warn("reading push scan failed",
				zap.Int64("session_id", int64(session.ID)),
				zap.Error(err),
			)
			continue
		}
		values := periodicValues(readings)
		if len(values) == 0 {
			continue
		}

		postCtx, cancel := context.WithTimeout(ctx, s.cfg.RoundTripTimeout)
		err = s.poster.PostMeterValues(postCtx, backoffice.MeterNotice{
			TransactionID: session.TransactionID,
			Identity:      s.pointIdentity(ctx, session.ChargePointID),
			ConnectorID:   session.ConnectorID,
			Values:        values,
		})
		cancel()
		if err != nil {
			s.log.Warn("reading push failed",
				zap.Int64("session_id", int64(session.ID)),
				zap.Error(err),
			)
			continue
		}
		s.setMarker(session.ID, readings[len(readings)-1].Timestamp)
	}
	return nil
}

// periodicValues regroups stored periodic readings into protocol shape.
func periodicValues(readings []domain.SampledValue) []ocpp.MeterValue {
	var values []ocpp.MeterValue
	for _, reading := range readings {
		if reading.Context != ocpp.ContextSamplePeriodic && reading.Context != ocpp.ContextSampleClock {
			continue
		}
		sampled := ocpp.SampledValue{
			Value:     reading.Value,
			Context:   reading.Context,
			Format:    reading.Format,
			Measurand: reading.Measurand,
			Phase:     reading.Phase,
			Location:  reading.Location,
			Unit:      reading.Unit,
		}
		if n := len(values); n > 0 && values[n-1].Timestamp.Equal(reading.Timestamp) {
			values[n-1].SampledValue = append(values[n-1].SampledValue, sampled)
			continue
		}
		values = append(values, ocpp.MeterValue{
			Timestamp:    reading.Timestamp,
			SampledValue: []ocpp.SampledValue{sampled},
		})
	}
	return values
}

// PurgePostedSessions deletes sessions posted longer ago than the retention
// window, readings included.
func (s *Service) PurgePostedSessions(ctx context.Context) (int64, error) {
	retention := time.Duration(s.cfg.PurgeRetentionHours) * time.Hour
	if retention <= 0 {
		return 0, nil
	}
	cutoff := s.clock.Now().Add(-retention)

	deleted, err := s.repo.DeletePostedBefore(ctx, s.db, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("purged posted sessions", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (s *Service) marker(sessionID snowflake.ID, fallback time.Time) time.Time {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	if ts, ok := s.pushMarker[sessionID]; ok {
		return ts
	}
	return fallback.Add(-time.Nanosecond)
}

func (s *Service) setMarker(sessionID snowflake.ID, ts time.Time) {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	s.pushMarker[sessionID] = ts
}
