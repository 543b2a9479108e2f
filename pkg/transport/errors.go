package transport

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation requires an active session.
var ErrNotConnected = errors.New("not connected")

// ConnectError indicates the MQTT connection could not be established.
type ConnectError struct {
	Broker string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Broker, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SubscribeError indicates a subscription could not be established.
type SubscribeError struct {
	Filter string
	Err    error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe %q: %v", e.Filter, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// PublishError indicates a message could not be published.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
