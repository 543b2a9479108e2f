package runner

import (
	"context"
	"sync"
	"time"

	"github.com/hubcred/hubcred-go/internal/harness/scenario"
	"github.com/hubcred/hubcred-go/pkg/correlate"
	"github.com/hubcred/hubcred-go/pkg/issuance"
	"github.com/hubcred/hubcred-go/pkg/retry"
	"github.com/hubcred/hubcred-go/pkg/transport"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

// Reconnect retry policy. The outer scenario budget still bounds the
// total time via ctx.
const (
	reconnectAttempts = 5
	reconnectBase     = 500 * time.Millisecond
)

// link is one hub session with response routing attached. The correlator
// and router live on the client side, so they survive when the session
// drops and resumes working as soon as the subscription is restored.
type link struct {
	session    transport.Session
	correlator *correlate.Correlator
	router     *issuance.Router
}

// dial builds a session, connects it, and subscribes to the credential
// response topic space.
func (r *Runner) dial(ctx context.Context) (*link, error) {
	sess, err := r.cfg.Session()
	if err != nil {
		return nil, err
	}
	if err := sess.Connect(ctx); err != nil {
		return nil, err
	}

	corr := correlate.New(r.logger)
	router, err := issuance.NewRouter(issuance.RouterConfig{
		Correlator:     corr,
		ConnectionID:   sess.ID(),
		DeviceID:       r.cfg.DeviceID,
		HubHost:        r.cfg.Host,
		Logger:         r.logger,
		ProtocolLogger: r.cfg.ProtocolLogger,
	})
	if err != nil {
		sess.Disconnect()
		return nil, err
	}

	l := &link{session: sess, correlator: corr, router: router}
	if err := l.subscribe(ctx); err != nil {
		sess.Disconnect()
		return nil, err
	}
	return l, nil
}

// subscribe establishes the response subscription on the current
// connection. Called again after a reconnect.
func (l *link) subscribe(ctx context.Context) error {
	return l.session.Subscribe(ctx, wire.ResponseFilter, issuance.DefaultQos, func(m transport.Message) {
		l.router.Handle(m.Topic, m.Payload)
	})
}

// exchange builds an issuance exchange bound to the link's session.
func (r *Runner) exchange(l *link, onTransition func(issuance.Transition)) (*issuance.Exchange, error) {
	return issuance.New(issuance.Config{
		Publisher:      l.session,
		Correlator:     l.correlator,
		DeviceID:       r.cfg.DeviceID,
		HubHost:        r.cfg.Host,
		Logger:         r.logger,
		ProtocolLogger: r.cfg.ProtocolLogger,
		OnTransition:   onTransition,
	})
}

// newRequest builds the issuance request for this run.
func (r *Runner) newRequest() wire.Request {
	req := wire.NewRequest(r.cfg.DeviceID, r.cfg.CSR)
	if r.cfg.APIVersion != "" {
		req.APIVersion = r.cfg.APIVersion
	}
	return req
}

// apply copies an exchange result into the scenario result.
func apply(res *scenario.Result, out issuance.Result) {
	res.Outcome = out.Outcome
	res.Certificate = out.Certificate
	res.Err = out.Err
	res.Transitions = out.Transitions
}

// runHappyPath issues one certificate over an uninterrupted session.
func (r *Runner) runHappyPath(ctx context.Context, res *scenario.Result) error {
	l, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer l.session.Disconnect()

	ex, err := r.exchange(l, nil)
	if err != nil {
		return err
	}

	req := r.newRequest()
	res.RequestID = req.RequestID
	apply(res, ex.Issue(ctx, req))
	return nil
}

// runDisconnectReconnect drops the session the moment the hub accepts the
// request, stays offline for the configured delay, then reconnects and
// re-subscribes. The correlator and state machine are client-side, so the
// exchange resumes the moment the hub redelivers the held result over the
// restored subscription.
func (r *Runner) runDisconnectReconnect(ctx context.Context, res *scenario.Result) error {
	l, err := r.dial(ctx)
	if err != nil {
		return err
	}
	defer l.session.Disconnect()

	// The transition callback runs on the exchange's goroutine, so the
	// disconnect completes before the exchange resumes waiting for the
	// result. Reconnecting happens on a separate goroutine to keep the
	// exchange's wait loop undisturbed.
	dropped := make(chan struct{})
	var once sync.Once
	ex, err := r.exchange(l, func(t issuance.Transition) {
		if t.To != issuance.StateAwaitingResult {
			return
		}
		once.Do(func() {
			r.logger.Info("forcing disconnect", "state", t.To, "request_id", res.RequestID)
			r.logScenarioState(res, "Running", "Reconnecting", "forced disconnect after acceptance")
			l.session.Disconnect()
			close(dropped)
		})
	})
	if err != nil {
		return err
	}

	reconnected := make(chan error, 1)
	go func() {
		select {
		case <-dropped:
			reconnected <- r.reconnect(ctx, l, res)
		case <-ctx.Done():
			reconnected <- ctx.Err()
		}
	}()

	req := r.newRequest()
	res.RequestID = req.RequestID
	apply(res, ex.Issue(ctx, req))

	// Fold the reconnect outcome in, but only when the drop actually
	// happened; a failure before acceptance never triggers it.
	select {
	case <-dropped:
		if recErr := <-reconnected; recErr != nil {
			r.logger.Warn("reconnect failed", "error", recErr)
			if res.Err == nil {
				res.Err = recErr
			}
		} else {
			res.Reconnects++
		}
	default:
	}
	return nil
}

// reconnect waits out the offline delay, then re-dials and re-subscribes
// on the same link.
func (r *Runner) reconnect(ctx context.Context, l *link, res *scenario.Result) error {
	if err := retry.Sleep(ctx, r.cfg.ReconnectDelay); err != nil {
		return err
	}

	r.logger.Info("reconnecting", "delay", r.cfg.ReconnectDelay)
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: reconnectAttempts,
		BaseDelay:   reconnectBase,
	}, func() error {
		if err := l.session.Connect(ctx); err != nil {
			return err
		}
		return l.subscribe(ctx)
	})
	if err != nil {
		return err
	}

	r.logScenarioState(res, "Reconnecting", "Running", "session re-established")
	r.logger.Info("reconnected", "connection_id", l.session.ID())
	return nil
}
