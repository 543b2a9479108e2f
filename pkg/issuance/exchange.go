package issuance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hubcred/hubcred-go/pkg/correlate"
	"github.com/hubcred/hubcred-go/pkg/log"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

// DefaultQos is the quality-of-service level for issuance requests.
const DefaultQos byte = 1

// Publisher is the subset of the transport session an exchange needs.
type Publisher interface {
	// ID returns the connection identifier for log correlation.
	ID() string

	// Publish sends a message to the hub.
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
}

// Config configures an Exchange.
type Config struct {
	// Publisher sends the issuance request. Required.
	Publisher Publisher

	// Correlator routes hub responses back to the exchange. Required.
	// The transport's receive path must deliver decoded responses to
	// the same correlator (see Router).
	Correlator *correlate.Correlator

	// DeviceID and HubHost annotate protocol log events.
	DeviceID string
	HubHost  string

	// Qos for the request publish (default: 1).
	Qos byte

	// Logger receives operational log output. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives protocol events. Defaults to NoopLogger.
	ProtocolLogger log.Logger

	// OnTransition, when set, observes every state change. It runs on
	// the exchange goroutine; keep it fast.
	OnTransition func(Transition)
}

// Result is the terminal outcome of one issuance exchange.
type Result struct {
	// Outcome classifies the result.
	Outcome Outcome

	// State is the terminal state (Resolved or TimedOut).
	State State

	// Certificate holds the issued material on success. It may be empty
	// when the hub acknowledged success without a body.
	Certificate string

	// Accepted is the 202 acknowledgment, if one arrived.
	Accepted *wire.Response

	// Final is the response that resolved the exchange, if any.
	Final *wire.Response

	// Err describes the failure or timeout. Nil on success.
	Err error

	// Elapsed is the time from publish start to resolution.
	Elapsed time.Duration

	// Transitions is the recorded state-change history.
	Transitions []Transition
}

// Exchange runs certificate-issuance exchanges one at a time.
// All methods are safe for concurrent use, but only one Issue call may be
// in flight; concurrent calls fail with ErrInFlight.
type Exchange struct {
	cfg    Config
	connID string

	mu          sync.Mutex
	state       State
	inFlight    bool
	transitions []Transition
}

// New creates an Exchange.
func New(cfg Config) (*Exchange, error) {
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("issuance: Publisher is required")
	}
	if cfg.Correlator == nil {
		return nil, fmt.Errorf("issuance: Correlator is required")
	}
	if cfg.Qos == 0 {
		cfg.Qos = DefaultQos
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProtocolLogger == nil {
		cfg.ProtocolLogger = log.NoopLogger{}
	}

	return &Exchange{
		cfg:    cfg,
		connID: cfg.Publisher.ID(),
		state:  StateIdle,
	}, nil
}

// State returns the current exchange state.
func (e *Exchange) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Issue publishes the request and blocks until the exchange reaches a
// terminal state: resolved by the hub, failed, or timed out. The context
// carries the overall deadline; there is no other timeout.
func (e *Exchange) Issue(ctx context.Context, req wire.Request) Result {
	start := time.Now()

	e.mu.Lock()
	if e.inFlight {
		current := e.state
		e.mu.Unlock()
		return Result{
			Outcome: OutcomeFailure,
			State:   current,
			Err:     ErrInFlight,
		}
	}
	e.inFlight = true
	e.state = StateIdle
	e.transitions = nil
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.inFlight = false
		e.mu.Unlock()
	}()

	if err := req.Validate(); err != nil {
		return e.fail(start, nil, nil, err)
	}

	// Register before publishing: with QoS 1 the hub can acknowledge
	// before Publish returns, and that response must not be lost.
	expected := []wire.Status{wire.StatusAccepted, wire.StatusOK}
	responses, err := e.cfg.Correlator.Register(req.RequestID, expected)
	if err != nil {
		return e.fail(start, nil, nil, fmt.Errorf("registering exchange: %w", err))
	}
	defer e.cfg.Correlator.Cancel(req.RequestID)

	e.transition(StatePublishing, "")

	payload, err := wire.EncodeRequest(req)
	if err != nil {
		return e.fail(start, nil, nil, err)
	}

	e.logRequest(req, payload)

	if err := e.cfg.Publisher.Publish(ctx, req.Topic(), e.cfg.Qos, payload); err != nil {
		// A failed publish resolves the exchange. Retrying with a fresh
		// request is the caller's decision, not the machine's.
		return e.fail(start, nil, nil, err)
	}

	e.transition(StateAwaitingAccepted, "")

	var accepted *wire.Response
	for {
		select {
		case <-ctx.Done():
			return e.timeout(start, accepted, ctx.Err())

		case resp, ok := <-responses:
			if !ok {
				return e.fail(start, accepted, nil, ErrCanceled)
			}

			switch {
			case resp.Status.IsAccepted():
				if accepted != nil {
					e.cfg.Logger.Warn("duplicate acknowledgment ignored",
						"request_id", req.RequestID)
					continue
				}
				accepted = &resp
				e.transition(StateAwaitingResult, "")

			case resp.Status.IsSuccess():
				note := "result received"
				if accepted == nil {
					// The hub's two responses travel independently; a
					// result overtaking the acknowledgment still counts.
					note = "result received before acknowledgment"
					e.cfg.Logger.Warn("result arrived before acknowledgment",
						"request_id", req.RequestID)
				}
				return e.succeed(start, accepted, &resp, note)

			default:
				return e.fail(start, accepted, &resp, &ProtocolError{
					Status: resp.Status,
					Body:   string(resp.Body),
				})
			}
		}
	}
}

// succeed resolves the exchange with the hub's successful result.
func (e *Exchange) succeed(start time.Time, accepted, final *wire.Response, note string) Result {
	e.transition(StateResolved, note)

	material, ok := final.Certificate()
	if !ok {
		e.cfg.Logger.Warn("successful result carried no certificate material")
	}

	return Result{
		Outcome:     OutcomeSuccess,
		State:       StateResolved,
		Certificate: material,
		Accepted:    accepted,
		Final:       final,
		Elapsed:     time.Since(start),
		Transitions: e.history(),
	}
}

// fail resolves the exchange with an error.
func (e *Exchange) fail(start time.Time, accepted, final *wire.Response, err error) Result {
	e.transition(StateResolved, err.Error())
	e.logError(err)

	return Result{
		Outcome:     OutcomeFailure,
		State:       StateResolved,
		Accepted:    accepted,
		Final:       final,
		Err:         err,
		Elapsed:     time.Since(start),
		Transitions: e.history(),
	}
}

// timeout ends the exchange without a terminal response.
func (e *Exchange) timeout(start time.Time, accepted *wire.Response, cause error) Result {
	e.transition(StateTimedOut, cause.Error())

	return Result{
		Outcome:     OutcomeTimeout,
		State:       StateTimedOut,
		Accepted:    accepted,
		Err:         fmt.Errorf("%w: %v", ErrTimeout, cause),
		Elapsed:     time.Since(start),
		Transitions: e.history(),
	}
}

// history returns a copy of the recorded transitions.
func (e *Exchange) history() []Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Transition(nil), e.transitions...)
}

// transition moves the exchange to the next state and notifies observers.
func (e *Exchange) transition(to State, note string) {
	e.mu.Lock()
	tr := Transition{From: e.state, To: to, At: time.Now(), Note: note}
	e.state = to
	e.transitions = append(e.transitions, tr)
	e.mu.Unlock()

	e.cfg.Logger.Debug("exchange state change",
		"from", tr.From.String(),
		"to", tr.To.String(),
		"note", note)

	e.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    tr.At,
		ConnectionID: e.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryState,
		DeviceID:     e.cfg.DeviceID,
		HubHost:      e.cfg.HubHost,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityExchange,
			OldState: tr.From.String(),
			NewState: tr.To.String(),
			Reason:   note,
		},
	})

	// Outside the mutex so observers can query the exchange.
	if e.cfg.OnTransition != nil {
		e.cfg.OnTransition(tr)
	}
}

// logRequest records the outbound request message event.
func (e *Exchange) logRequest(req wire.Request, payload []byte) {
	captured, truncated := log.CapturePayload(payload)
	e.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: e.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryMessage,
		DeviceID:     e.cfg.DeviceID,
		HubHost:      e.cfg.HubHost,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeRequest,
			RequestID: req.RequestID,
			Topic:     req.Topic(),
			Qos:       e.cfg.Qos,
			Size:      len(payload),
			Payload:   captured,
			Truncated: truncated,
		},
	})
}

// logError records a protocol-level error event.
func (e *Exchange) logError(err error) {
	event := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: e.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryError,
		DeviceID:     e.cfg.DeviceID,
		HubHost:      e.cfg.HubHost,
		Error: &log.ErrorEventData{
			Layer:   log.LayerProtocol,
			Message: err.Error(),
			Context: "issuance exchange",
		},
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		code := int(protoErr.Status)
		event.Error.Code = &code
	}
	e.cfg.ProtocolLogger.Log(event)
}
