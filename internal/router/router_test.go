package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	sessiondomain "github.com/voltgrid/voltgrid/internal/session/domain"
	"go.uber.org/zap"
)

type stubProcessor struct {
	actions []ocpp.Action
	handle  func(ctx context.Context, call *Call) (any, error)
	calls   int
}

func (p *stubProcessor) Actions() []ocpp.Action { return p.actions }

func (p *stubProcessor) Handle(ctx context.Context, call *Call) (any, error) {
	p.calls++
	return p.handle(ctx, call)
}

func await(t *testing.T, ch <-chan Outcome) Outcome {
	t.Helper()
	select {
	case outcome := <-ch:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch never terminated")
		return Outcome{}
	}
}

func TestDispatchWithoutProcessors(t *testing.T) {
	r := NewRouter(RouterParam{Log: zap.NewNop()})

	outcome := await(t, r.Dispatch(context.Background(), Call{Action: ocpp.ActionHeartbeat}))
	require.NotNil(t, outcome.Err)
	assert.Equal(t, CodeNotImplemented, outcome.Err.Code)
	assert.NotEmpty(t, outcome.CorrelationID)
}

func TestDispatchTerminalResult(t *testing.T) {
	r := NewRouter(RouterParam{Log: zap.NewNop()})
	r.Register(&stubProcessor{
		actions: []ocpp.Action{ocpp.ActionHeartbeat},
		handle: func(context.Context, *Call) (any, error) {
			return ocpp.HeartbeatConf{}, nil
		},
	})

	outcome := await(t, r.Dispatch(context.Background(), Call{
		CorrelationID: "corr-1",
		Action:        ocpp.ActionHeartbeat,
	}))
	assert.Nil(t, outcome.Err)
	assert.Equal(t, "corr-1", outcome.CorrelationID)
	assert.IsType(t, ocpp.HeartbeatConf{}, outcome.Result)
}

func TestPanickingProcessorYieldsInternalError(t *testing.T) {
	r := NewRouter(RouterParam{Log: zap.NewNop()})
	r.Register(&stubProcessor{
		actions: []ocpp.Action{ocpp.ActionMeterValues},
		handle: func(context.Context, *Call) (any, error) {
			panic("boom")
		},
	})
	healthy := &stubProcessor{
		actions: []ocpp.Action{ocpp.ActionHeartbeat},
		handle: func(context.Context, *Call) (any, error) {
			return ocpp.HeartbeatConf{}, nil
		},
	}
	r.Register(healthy)

	outcome := await(t, r.Dispatch(context.Background(), Call{Action: ocpp.ActionMeterValues}))
	require.NotNil(t, outcome.Err)
	assert.Equal(t, CodeInternalError, outcome.Err.Code)

	// The router survives the panic.
	outcome = await(t, r.Dispatch(context.Background(), Call{Action: ocpp.ActionHeartbeat}))
	assert.Nil(t, outcome.Err)
	assert.Equal(t, 1, healthy.calls)
}

func TestFirstRegistrantIsTerminalLaterOnesObserve(t *testing.T) {
	r := NewRouter(RouterParam{Log: zap.NewNop()})
	r.Register(&stubProcessor{
		actions: []ocpp.Action{ocpp.ActionHeartbeat},
		handle: func(context.Context, *Call) (any, error) {
			return "first", nil
		},
	})
	observer := &stubProcessor{
		actions: []ocpp.Action{ocpp.ActionHeartbeat},
		handle: func(context.Context, *Call) (any, error) {
			return "second", nil
		},
	}
	r.Register(observer)

	outcome := await(t, r.Dispatch(context.Background(), Call{Action: ocpp.ActionHeartbeat}))
	assert.Equal(t, "first", outcome.Result)
	assert.Equal(t, 1, observer.calls, "observers still see every call")
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"call error passthrough", &CallError{Code: CodeFormationViolation, Description: "bad"}, CodeFormationViolation},
		{"invalid request", sessiondomain.ErrInvalidRequest, CodeFormationViolation},
		{"missing session", sessiondomain.ErrSessionNotFound, CodeGenericError},
		{"completed session", sessiondomain.ErrSessionComplete, CodeGenericError},
		{"anything else", errors.New("disk on fire"), CodeInternalError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, toCallError(tc.err).Code)
		})
	}
}
