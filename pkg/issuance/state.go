package issuance

import "time"

// State of an issuance exchange.
type State uint8

const (
	// StateIdle indicates no exchange is in progress.
	StateIdle State = iota

	// StatePublishing indicates the request publish is in flight.
	StatePublishing

	// StateAwaitingAccepted indicates the request was published and the
	// exchange is waiting for the 202 acknowledgment.
	StateAwaitingAccepted

	// StateAwaitingResult indicates the 202 arrived and the exchange is
	// waiting for the final result.
	StateAwaitingResult

	// StateResolved indicates the exchange finished with a hub response,
	// successful or not.
	StateResolved

	// StateTimedOut indicates the exchange gave up before a terminal
	// response arrived.
	StateTimedOut
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePublishing:
		return "Publishing"
	case StateAwaitingAccepted:
		return "AwaitingAccepted"
	case StateAwaitingResult:
		return "AwaitingResult"
	case StateResolved:
		return "Resolved"
	case StateTimedOut:
		return "TimedOut"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the exchange is finished.
func (s State) Terminal() bool {
	return s == StateResolved || s == StateTimedOut
}

// Outcome classifies a finished exchange.
type Outcome uint8

const (
	// OutcomeSuccess means the hub delivered a successful result.
	OutcomeSuccess Outcome = iota

	// OutcomeFailure means the exchange failed: a hub rejection, a
	// publish failure, or a setup error.
	OutcomeFailure

	// OutcomeTimeout means no terminal response arrived in time.
	// Distinct from failure: the hub never said no.
	OutcomeTimeout
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeFailure:
		return "FAILURE"
	case OutcomeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Transition is one recorded state change of an exchange.
type Transition struct {
	From State
	To   State
	At   time.Time

	// Note records why, when the transition is not self-explanatory:
	// anomalies, rejection statuses, publish errors.
	Note string
}
