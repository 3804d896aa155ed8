package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrorCode is the typed failure class of a dispatch. Every inbound call
// terminates in a result or one of these; a fault never reaches the
// transport unanswered.
type ErrorCode string

const (
	CodeNotImplemented     ErrorCode = "NotImplemented"
	CodeFormationViolation ErrorCode = "FormationViolation"
	CodeInternalError      ErrorCode = "InternalError"
	CodeGenericError       ErrorCode = "GenericError"
)

// CallError is the protocol-level error answer to a call.
type CallError struct {
	Code        ErrorCode `json:"code"`
	Description string    `json:"description"`
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Call is one inbound action message from a charge point.
type Call struct {
	CorrelationID string
	Identity      string
	Action        ocpp.Action
	Payload       json.RawMessage
}

// Outcome is the single terminal answer of a dispatch.
type Outcome struct {
	CorrelationID string
	Result        any
	Err           *CallError
}

// Processor handles a declared set of actions. The first registered
// processor for an action produces the terminal result; later ones observe
// the call and may not change the answer.
type Processor interface {
	Actions() []ocpp.Action
	Handle(ctx context.Context, call *Call) (any, error)
}

// Metrics observes dispatch outcomes. Nil-safe.
type Metrics interface {
	ObserveDispatch(action string, outcome string, elapsed time.Duration)
}

type RouterParam struct {
	fx.In

	Log     *zap.Logger
	Metrics Metrics `optional:"true"`
}

// Router fans inbound calls out to registered processors asynchronously,
// correlating each to exactly one terminal Outcome.
type Router struct {
	log     *zap.Logger
	metrics Metrics

	mu         sync.RWMutex
	processors map[ocpp.Action][]Processor
}

func NewRouter(p RouterParam) *Router {
	return &Router{
		log:        p.Log.Named("router"),
		metrics:    p.Metrics,
		processors: make(map[ocpp.Action][]Processor),
	}
}

// Register adds a processor for every action it declares.
func (r *Router) Register(p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, action := range p.Actions() {
		r.processors[action] = append(r.processors[action], p)
	}
}

// Dispatch routes the call asynchronously. The returned channel delivers
// exactly one Outcome and is then closed.
func (r *Router) Dispatch(ctx context.Context, call Call) <-chan Outcome {
	if call.CorrelationID == "" {
		call.CorrelationID = uuid.NewString()
	}
	out := make(chan Outcome, 1)

	go func() {
		defer close(out)
		started := time.Now()
		outcome := r.dispatch(ctx, &call)
		r.observe(call.Action, outcome, time.Since(started))
		out <- outcome
	}()
	return out
}

func (r *Router) dispatch(ctx context.Context, call *Call) Outcome {
	r.mu.RLock()
	processors := r.processors[call.Action]
	r.mu.RUnlock()

	if len(processors) == 0 {
		return Outcome{
			CorrelationID: call.CorrelationID,
			Err: &CallError{
				Code:        CodeNotImplemented,
				Description: fmt.Sprintf("no processor for action %s", call.Action),
			},
		}
	}

	terminal := r.invoke(ctx, processors[0], call)

	// Later registrants observe the call; their answer never overrides
	// the terminal one and their failures only get logged.
	for _, observer := range processors[1:] {
		if obs := r.invoke(ctx, observer, call); obs.Err != nil {
			r.log.Warn("observer processor failed",
				zap.String("action", string(call.Action)),
				zap.String("correlation_id", call.CorrelationID),
				zap.String("code", string(obs.Err.Code)),
			)
		}
	}
	return terminal
}

// invoke runs one processor, converting panics and errors into typed
// call errors.
func (r *Router) invoke(ctx context.Context, p Processor, call *Call) (outcome Outcome) {
	outcome.CorrelationID = call.CorrelationID

	defer func() {
		if cause := recover(); cause != nil {
			r.log.Error("processor panicked",
				zap.String("action", string(call.Action)),
				zap.String("correlation_id", call.CorrelationID),
				zap.Any("panic", cause),
			)
			outcome.Result = nil
			outcome.Err = &CallError{Code: CodeInternalError, Description: "internal error"}
		}
	}()

	result, err := p.Handle(ctx, call)
	if err != nil {
		outcome.Err = toCallError(err)
		return outcome
	}
	outcome.Result = result
	return outcome
}

func toCallError(err error) *CallError {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}

	switch {
	case errors.Is(err, sessiondomain.ErrInvalidRequest):
		return &CallError{Code: CodeFormationViolation, Description: err.Error()}
	case errors.Is(err, sessiondomain.ErrSessionNotFound),
		errors.Is(err, sessiondomain.ErrSessionComplete):
		return &CallError{Code: CodeGenericError, Description: err.Error()}
	default:
		return &CallError{Code: CodeInternalError, Description: err.Error()}
	}
}

func (r *Router) observe(action ocpp.Action, outcome Outcome, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	label := "ok"
	if outcome.Err != nil {
		label = string(outcome.Err.Code)
	}
	r.metrics.ObserveDispatch(string(action), label, elapsed)
}
