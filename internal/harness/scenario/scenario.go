// Package scenario defines the vocabulary shared by the scenario runner
// and the result reporters.
package scenario

import (
	"time"

	"github.com/hubcred/hubcred-go/pkg/issuance"
)

// Registered scenario names.
const (
	// HappyPath issues one certificate over an uninterrupted session.
	HappyPath = "happy_path"

	// DisconnectReconnect drops the session after the hub accepts the
	// request and reconnects in time to receive the result.
	DisconnectReconnect = "disconnect_reconnect"
)

// Info describes a registered scenario for listings.
type Info struct {
	// Name is the scenario identifier passed on the command line.
	Name string

	// Description is a one-line summary of what the scenario exercises.
	Description string
}

// Result is the outcome of one scenario run.
type Result struct {
	// Scenario is the name of the scenario that ran.
	Scenario string

	// RunID uniquely identifies this run in log output.
	RunID string

	// Outcome classifies the terminal issuance outcome.
	Outcome issuance.Outcome

	// Passed is true when the scenario met its expectation: the exchange
	// resolved with a Success outcome.
	Passed bool

	// RequestID is the correlation id the exchange used.
	RequestID string

	// Certificate is the issued material on success.
	Certificate string

	// Err describes what went wrong. Nil when Passed.
	Err error

	// Reconnects counts completed reconnect cycles during the run.
	Reconnects int

	// StartTime and EndTime bound the run; Duration is their difference.
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	// Transitions is the state-change trace recorded by the exchange.
	Transitions []issuance.Transition
}
