package transport

import "context"

// Message is an MQTT message delivered to a subscription handler.
type Message struct {
	// Topic the message arrived on.
	Topic string

	// Payload is the message body.
	Payload []byte

	// Qos is the quality-of-service level the message was delivered with.
	Qos byte
}

// Handler receives messages for a subscription. Handlers are invoked
// asynchronously from the session's receive goroutine and must not block
// for long.
type Handler func(msg Message)

// Session is the hub-facing MQTT session.
// Implemented by Client; tests substitute an in-process hub.
type Session interface {
	// ID returns the session's connection identifier, used to correlate
	// log events.
	ID() string

	// Connect establishes the MQTT connection. It is a no-op when
	// already connected.
	Connect(ctx context.Context) error

	// Subscribe registers handler for messages matching filter.
	// Subscriptions are lost when the connection drops.
	Subscribe(ctx context.Context, filter string, qos byte, handler Handler) error

	// Publish sends a message. It fails with a PublishError when the
	// session is not connected.
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error

	// Disconnect cleanly closes the connection. Safe to call when
	// already disconnected.
	Disconnect()

	// Connected reports whether the session is currently connected.
	Connected() bool

	// Lost delivers the error for each unexpected connection loss.
	// A clean Disconnect does not produce a loss event.
	Lost() <-chan error
}

// Compile-time interface satisfaction check.
var _ Session = (*Client)(nil)
