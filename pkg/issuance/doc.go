// Package issuance implements the certificate-issuance exchange.
//
// One exchange publishes one issuance request and tracks it to a terminal
// state. The hub acknowledges the request with a 202 response and delivers
// the outcome as a separate 200 (or error) response; both are correlated
// to the request by the request ID in the topic.
//
// The exchange is a state machine:
//
//	Idle -> Publishing -> AwaitingAccepted -> AwaitingResult -> Resolved
//
// Any waiting state moves to TimedOut when the context expires. A publish
// failure resolves the exchange as a failure; the exchange itself never
// retries. A result that arrives before the acknowledgment is an anomaly
// worth recording, not a protocol violation: the hub's two responses
// travel independently, so the exchange resolves normally and notes the
// ordering in the transition log.
package issuance
