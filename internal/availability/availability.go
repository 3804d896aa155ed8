package availability

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	cpdomain "github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	"github.com/voltgrid/voltgrid/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Backend can flip a connector between operative and inoperative on one
// transport. Backends are tried in registration order; the first one that
// reports the charge point locally reachable handles the command.
type Backend interface {
	Name() string
	IsLocallyAvailable(ctx context.Context, identity string) bool
	ChangeAvailability(ctx context.Context, identity string, connectorID int, available bool) error
}

// Outcome is the terminal answer to an availability command.
type Outcome string

const (
	OutcomeCompleted Outcome = "Completed"
	OutcomeDeclined  Outcome = "Declined"
	OutcomeIgnored   Outcome = "Ignored"
)

var (
	ErrTemplateMismatch      = errors.New("control_id_template_pattern_mismatch")
	ErrSourceTemplateInvalid = errors.New("source_id_template_invalid")
)

// Control is one addressable connector: the control id targets the
// connector, the source id names the charge point it belongs to.
type Control struct {
	SourceID  string `json:"source_id"`
	ControlID string `json:"control_id"`
}

type ServiceParam struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Points   cpdomain.Service
	Backends []Backend `group:"availability.backends"`
}

// Service exposes every known connector as an addressable on/off control.
type Service struct {
	log      *zap.Logger
	template string
	source   string
	pattern  *regexp.Regexp
	timeout  time.Duration
	points   cpdomain.Service
	backends []Backend
}

// NewService compiles the control-id pattern and verifies that template
// and pattern are inverse mappings before anything is addressed through
// them.
func NewService(p ServiceParam) (*Service, error) {
	pattern, err := regexp.Compile(p.Config.ControlIDPattern)
	if err != nil {
		return nil, fmt.Errorf("availability: compile control id pattern: %w", err)
	}

	s := &Service{
		log:      p.Log.Named("availability"),
		template: p.Config.ControlIDTemplate,
		source:   p.Config.SourceIDTemplate,
		pattern:  pattern,
		timeout:  p.Config.RoundTripTimeout,
		points:   p.Points,
		backends: p.Backends,
	}
	if err := s.verifyInverse(); err != nil {
		return nil, err
	}
	return s, nil
}

// verifyInverse formats a probe id and parses it back; the two mappings
// must agree or every later command would be misaddressed.
func (s *Service) verifyInverse() error {
	const probeIdentity = "probe-cp"
	const probeConnector = 7

	id := s.FormatControlID(probeIdentity, probeConnector)
	identity, connector, ok := s.ParseControlID(id)
	if !ok || identity != probeIdentity || connector != probeConnector {
		return fmt.Errorf("%w: template %q, pattern %q", ErrTemplateMismatch, s.template, s.pattern.String())
	}
	// A malformed verb leaves a %! marker in the rendered id.
	src := s.FormatSourceID(probeIdentity)
	if !strings.Contains(src, probeIdentity) || strings.Contains(src, "%!") {
		return fmt.Errorf("%w: template %q", ErrSourceTemplateInvalid, s.source)
	}
	return nil
}

// FormatSourceID renders the source id of one charge point.
func (s *Service) FormatSourceID(identity string) string {
	return fmt.Sprintf(s.source, identity)
}

// FormatControlID renders the control id of one connector.
func (s *Service) FormatControlID(identity string, connectorID int) string {
	return fmt.Sprintf(s.template, identity, connectorID)
}

// ParseControlID extracts charge-point identity and connector id. ok is
// false when the id does not match the pattern.
func (s *Service) ParseControlID(controlID string) (identity string, connectorID int, ok bool) {
	match := s.pattern.FindStringSubmatch(controlID)
	if len(match) != 3 {
		return "", 0, false
	}
	connectorID, err := strconv.Atoi(match[2])
	if err != nil {
		return "", 0, false
	}
	return match[1], connectorID, true
}

// HandleCommand maps an external on/off command onto the addressed
// connector with a bounded wait.
func (s *Service) HandleCommand(ctx context.Context, controlID string, on bool) Outcome {
	identity, connectorID, ok := s.ParseControlID(controlID)
	if !ok {
		return OutcomeIgnored
	}

	cp, err := s.points.GetByIdentity(ctx, identity)
	if err != nil || cp == nil {
		s.log.Warn("availability command for unknown charge point",
			zap.String("control_id", controlID),
			zap.String("identity", identity),
			zap.Error(err),
		)
		return OutcomeDeclined
	}
	if !cp.Enabled {
		return OutcomeDeclined
	}

	backend := s.pickBackend(ctx, identity)
	if backend == nil {
		s.log.Warn("no backend reports the charge point available",
			zap.String("identity", identity),
		)
		return OutcomeDeclined
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := backend.ChangeAvailability(callCtx, identity, connectorID, on); err != nil {
		s.log.Warn("change availability failed",
			zap.String("identity", identity),
			zap.Int("connector_id", connectorID),
			zap.String("backend", backend.Name()),
			zap.Bool("on", on),
			zap.Error(err),
		)
		return OutcomeDeclined
	}

	s.log.Info("availability changed",
		zap.String("identity", identity),
		zap.Int("connector_id", connectorID),
		zap.String("backend", backend.Name()),
		zap.Bool("on", on),
	)
	return OutcomeCompleted
}

func (s *Service) pickBackend(ctx context.Context, identity string) Backend {
	for _, backend := range s.backends {
		if backend.IsLocallyAvailable(ctx, identity) {
			return backend
		}
	}
	return nil
}

// Controls enumerates one control per known connector, each tagged with
// the source id of its charge point.
func (s *Service) Controls(ctx context.Context) ([]Control, error) {
	connectors, err := s.points.ListAllConnectors(ctx)
	if err != nil {
		return nil, err
	}

	identities := make(map[int64]string)
	controls := make([]Control, 0, len(connectors))
	for _, connector := range connectors {
		identity, cached := identities[int64(connector.ChargePointID)]
		if !cached {
			cp, err := s.points.GetByID(ctx, connector.ChargePointID)
			if err != nil {
				return nil, err
			}
			if cp == nil {
				continue
			}
			identity = cp.Identity
			identities[int64(connector.ChargePointID)] = identity
		}
		controls = append(controls, Control{
			SourceID:  s.FormatSourceID(identity),
			ControlID: s.FormatControlID(identity, connector.ConnectorID),
		})
	}
	return controls, nil
}

// ControlIDs enumerates one control id per known connector.
func (s *Service) ControlIDs(ctx context.Context) ([]string, error) {
	controls, err := s.Controls(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(controls))
	for _, control := range controls {
		ids = append(ids, control.ControlID)
	}
	return ids, nil
}
