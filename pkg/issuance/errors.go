package issuance

import (
	"errors"
	"fmt"

	"github.com/hubcred/hubcred-go/pkg/wire"
)

// Exchange errors.
var (
	// ErrTimeout marks exchanges that gave up waiting for the hub.
	ErrTimeout = errors.New("timed out awaiting hub response")

	// ErrInFlight is returned when Issue is called while a previous
	// exchange on the same Exchange value has not finished.
	ErrInFlight = errors.New("an exchange is already in flight")

	// ErrCanceled marks exchanges whose correlation waiter was torn
	// down before a terminal response arrived.
	ErrCanceled = errors.New("exchange canceled")
)

// ProtocolError is a rejection delivered by the hub.
type ProtocolError struct {
	Status wire.Status
	Body   string
}

func (e *ProtocolError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("hub rejected request: %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("hub rejected request: %s", e.Status)
}
