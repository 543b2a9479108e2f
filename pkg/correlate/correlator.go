// Package correlate routes hub responses to waiting issuance exchanges.
//
// The hub addresses responses by the request ID embedded in the topic, not
// by MQTT packet identity. The Correlator owns the mapping from request ID
// to waiting exchange: transports deliver every decoded response here, and
// the exchange that registered the ID receives it on its channel. Responses
// for unknown IDs are discarded with a debug log entry; they never fail the
// client.
package correlate

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hubcred/hubcred-go/pkg/wire"
)

// ErrDuplicateID is returned when registering a request ID that already
// has a waiter.
var ErrDuplicateID = errors.New("correlate: request ID already registered")

// waiterHeadroom is extra channel capacity beyond the expected statuses,
// so unexpected responses (errors, duplicates) can still be forwarded
// without blocking the transport's receive goroutine.
const waiterHeadroom = 2

// Disposition describes how a delivered response related to the waiter's
// expectations. The correlator reports it; the exchange decides what the
// anomalies mean.
type Disposition uint8

const (
	// Matched means the response status was the next expected status.
	Matched Disposition = iota
	// MatchedOutOfOrder means the status was expected, but not next.
	// A 200 arriving before the 202 lands here.
	MatchedOutOfOrder
	// MatchedUnexpected means the ID was registered but the status was
	// not in the remaining expected sequence. Error statuses and
	// duplicate deliveries land here.
	MatchedUnexpected
	// Unmatched means no waiter is registered for the ID. The response
	// was discarded.
	Unmatched
)

// String returns the disposition name.
func (d Disposition) String() string {
	switch d {
	case Matched:
		return "MATCHED"
	case MatchedOutOfOrder:
		return "OUT_OF_ORDER"
	case MatchedUnexpected:
		return "UNEXPECTED"
	case Unmatched:
		return "UNMATCHED"
	default:
		return "UNKNOWN"
	}
}

// waiter tracks one registered exchange.
type waiter struct {
	ch chan wire.Response

	// expected is the remaining status sequence, head first. Each
	// delivered expected status is consumed, so a status is matched at
	// most once.
	expected []wire.Status
}

// Correlator routes responses to waiting exchanges by request ID.
// All methods are safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	logger  *slog.Logger
}

// New creates a Correlator. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Correlator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		waiters: make(map[string]*waiter),
		logger:  logger,
	}
}

// Register creates a waiter for the given request ID expecting the given
// status sequence, and returns the channel responses will arrive on.
// Registering an ID that already has a waiter fails with ErrDuplicateID.
//
// Register before publishing the request: the hub may respond before the
// publish call returns.
func (c *Correlator) Register(requestID string, expected []wire.Status) (<-chan wire.Response, error) {
	if requestID == "" {
		return nil, fmt.Errorf("correlate: empty request ID")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.waiters[requestID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, requestID)
	}

	w := &waiter{
		ch:       make(chan wire.Response, len(expected)+waiterHeadroom),
		expected: append([]wire.Status(nil), expected...),
	}
	c.waiters[requestID] = w
	return w.ch, nil
}

// Deliver routes a response to the waiter registered for its request ID
// and reports how the response related to the waiter's expectations.
// Responses with no waiter are discarded. Deliver never blocks: if a
// waiter has stopped consuming, further responses for it are dropped.
func (c *Correlator) Deliver(resp wire.Response) Disposition {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.waiters[resp.RequestID]
	if !ok {
		c.logger.Debug("discarding response with no waiter",
			"request_id", resp.RequestID,
			"status", resp.Status.String())
		return Unmatched
	}

	disposition := w.consume(resp.Status)

	select {
	case w.ch <- resp:
	default:
		// The waiter stopped consuming. Drop rather than block the
		// transport's receive goroutine.
		c.logger.Debug("dropping response for saturated waiter",
			"request_id", resp.RequestID,
			"status", resp.Status.String())
	}
	return disposition
}

// consume removes status from the expected sequence if present and
// classifies the delivery. Caller holds the correlator mutex.
func (w *waiter) consume(status wire.Status) Disposition {
	for i, exp := range w.expected {
		if exp != status {
			continue
		}
		w.expected = append(w.expected[:i], w.expected[i+1:]...)
		if i == 0 {
			return Matched
		}
		return MatchedOutOfOrder
	}
	return MatchedUnexpected
}

// Cancel removes the waiter for the given request ID and closes its
// channel. Canceling an unknown or already-canceled ID is a no-op, so
// exchanges can always defer it.
func (c *Correlator) Cancel(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.waiters[requestID]
	if !ok {
		return
	}
	delete(c.waiters, requestID)
	close(w.ch)
}

// Pending returns the registered request IDs in sorted order.
func (c *Correlator) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.waiters))
	for id := range c.waiters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
