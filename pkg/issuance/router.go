package issuance

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hubcred/hubcred-go/pkg/correlate"
	"github.com/hubcred/hubcred-go/pkg/log"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

// RouterConfig configures a Router.
type RouterConfig struct {
	// Correlator receives every decoded response. Required.
	Correlator *correlate.Correlator

	// ConnectionID, DeviceID, and HubHost annotate protocol log events.
	ConnectionID string
	DeviceID     string
	HubHost      string

	// Logger receives operational log output. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives protocol events. Defaults to NoopLogger.
	ProtocolLogger log.Logger
}

// Router decodes messages from the response subscription and hands them
// to the correlator. Wire it as the subscription handler:
//
//	session.Subscribe(ctx, wire.ResponseFilter, 1, func(m transport.Message) {
//	    router.Handle(m.Topic, m.Payload)
//	})
type Router struct {
	cfg RouterConfig
}

// NewRouter creates a Router.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Correlator == nil {
		return nil, fmt.Errorf("issuance: Correlator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProtocolLogger == nil {
		cfg.ProtocolLogger = log.NoopLogger{}
	}
	return &Router{cfg: cfg}, nil
}

// Handle decodes one inbound message and routes it. Messages that are not
// credential responses are ignored with a debug log entry.
func (r *Router) Handle(topic string, payload []byte) {
	resp, err := wire.ParseResponse(topic, payload, time.Now())
	if err != nil {
		r.cfg.Logger.Debug("ignoring message on unexpected topic",
			"topic", topic, "error", err)
		return
	}

	r.logResponse(resp, topic)

	disposition := r.cfg.Correlator.Deliver(resp)
	switch disposition {
	case correlate.MatchedOutOfOrder:
		r.cfg.Logger.Warn("response arrived out of order",
			"request_id", resp.RequestID,
			"status", resp.Status.String())
	case correlate.MatchedUnexpected:
		r.cfg.Logger.Debug("response outside the expected sequence",
			"request_id", resp.RequestID,
			"status", resp.Status.String())
	}

	r.cfg.Logger.Debug("response routed",
		"request_id", resp.RequestID,
		"status", resp.Status.String(),
		"disposition", disposition.String())
}

// logResponse records the inbound response message event.
func (r *Router) logResponse(resp wire.Response, topic string) {
	status := resp.Status
	captured, truncated := log.CapturePayload(resp.Body)
	r.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    resp.ReceivedAt,
		ConnectionID: r.cfg.ConnectionID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerProtocol,
		Category:     log.CategoryMessage,
		DeviceID:     r.cfg.DeviceID,
		HubHost:      r.cfg.HubHost,
		Message: &log.MessageEvent{
			Type:      log.MessageTypeResponse,
			RequestID: resp.RequestID,
			Topic:     topic,
			Status:    &status,
			Size:      len(resp.Body),
			Payload:   captured,
			Truncated: truncated,
		},
	})
}
