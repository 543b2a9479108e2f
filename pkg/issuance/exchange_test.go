package issuance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hubcred/hubcred-go/pkg/correlate"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

type publishedMsg struct {
	topic   string
	qos     byte
	payload []byte
}

// fakePublisher records publishes and can deliver responses from within
// Publish, simulating a hub that answers before the publish call returns.
type fakePublisher struct {
	mu           sync.Mutex
	published    []publishedMsg
	err          error
	afterPublish func()
}

func (p *fakePublisher) ID() string { return "conn-test" }

func (p *fakePublisher) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	p.mu.Lock()
	p.published = append(p.published, publishedMsg{
		topic:   topic,
		qos:     qos,
		payload: append([]byte(nil), payload...),
	})
	err := p.err
	hook := p.afterPublish
	p.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		hook()
	}
	return nil
}

func newTestExchange(t *testing.T, pub *fakePublisher) (*Exchange, *correlate.Correlator) {
	t.Helper()

	quiet := slog.New(slog.DiscardHandler)
	correlator := correlate.New(quiet)
	exchange, err := New(Config{
		Publisher:  pub,
		Correlator: correlator,
		DeviceID:   "device00042",
		HubHost:    "hub.example.net",
		Logger:     quiet,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return exchange, correlator
}

func testRequest() wire.Request {
	return wire.Request{
		RequestID: "42",
		DeviceID:  "device00042",
		CSR:       wire.MockCSR,
	}
}

func respond(c *correlate.Correlator, id string, status wire.Status, body string) {
	c.Deliver(wire.Response{
		RequestID:  id,
		Status:     status,
		Body:       []byte(body),
		ReceivedAt: time.Now(),
	})
}

func stateSequence(transitions []Transition) []State {
	states := []State{StateIdle}
	for _, tr := range transitions {
		states = append(states, tr.To)
	}
	return states
}

func assertStates(t *testing.T, transitions []Transition, want ...State) {
	t.Helper()
	got := stateSequence(transitions)
	if len(got) != len(want) {
		t.Fatalf("state sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("state sequence = %v, want %v", got, want)
		}
	}
}

func TestIssueHappyPath(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusAccepted, "")
		respond(correlator, "42", wire.StatusOK, `{"certificate":"-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----"}`)
	}

	result := exchange.Issue(context.Background(), testRequest())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err: %v), want SUCCESS", result.Outcome, result.Err)
	}
	if result.State != StateResolved {
		t.Errorf("State = %v, want Resolved", result.State)
	}
	if result.Err != nil {
		t.Errorf("Err = %v, want nil", result.Err)
	}
	if !strings.Contains(result.Certificate, "BEGIN CERTIFICATE") {
		t.Errorf("Certificate = %q, want extracted PEM material", result.Certificate)
	}
	if result.Accepted == nil || !result.Accepted.Status.IsAccepted() {
		t.Error("Accepted should carry the 202 response")
	}
	if result.Final == nil || !result.Final.Status.IsSuccess() {
		t.Error("Final should carry the 200 response")
	}

	assertStates(t, result.Transitions,
		StateIdle, StatePublishing, StateAwaitingAccepted, StateAwaitingResult, StateResolved)
}

func TestIssuePublishesRequestTopicAndPayload(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusAccepted, "")
		respond(correlator, "42", wire.StatusOK, "cert")
	}

	result := exchange.Issue(context.Background(), testRequest())
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err: %v), want SUCCESS", result.Outcome, result.Err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	msg := pub.published[0]
	if msg.topic != "$iothub/credentials/POST/issueCertificate/?$rid=42" {
		t.Errorf("topic = %q", msg.topic)
	}
	if msg.qos != 1 {
		t.Errorf("qos = %d, want 1", msg.qos)
	}
	if !strings.Contains(string(msg.payload), `"id":"device00042"`) {
		t.Errorf("payload = %s, want device id field", msg.payload)
	}
}

func TestIssuePublishFailureResolvesFailure(t *testing.T) {
	cause := errors.New("broker unreachable")
	pub := &fakePublisher{err: cause}
	exchange, _ := newTestExchange(t, pub)

	result := exchange.Issue(context.Background(), testRequest())

	if result.Outcome != OutcomeFailure {
		t.Fatalf("Outcome = %v, want FAILURE", result.Outcome)
	}
	if result.State != StateResolved {
		t.Errorf("State = %v, want Resolved", result.State)
	}
	if !errors.Is(result.Err, cause) {
		t.Errorf("Err = %v, want the publish error", result.Err)
	}
	// No retry: exactly one publish attempt
	if len(pub.published) != 1 {
		t.Errorf("publish attempts = %d, want 1", len(pub.published))
	}
}

func TestIssueRejectionBeforeAccepted(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusBadRequest, `{"error":"malformed csr"}`)
	}

	result := exchange.Issue(context.Background(), testRequest())

	if result.Outcome != OutcomeFailure {
		t.Fatalf("Outcome = %v, want FAILURE", result.Outcome)
	}

	var protoErr *ProtocolError
	if !errors.As(result.Err, &protoErr) {
		t.Fatalf("Err type = %T, want *ProtocolError", result.Err)
	}
	if protoErr.Status != wire.StatusBadRequest {
		t.Errorf("Status = %v, want 400", protoErr.Status)
	}
	if !strings.Contains(protoErr.Body, "malformed csr") {
		t.Errorf("Body = %q, want hub error body", protoErr.Body)
	}

	// The registration must not outlive the exchange.
	if d := correlator.Deliver(wire.Response{RequestID: "42", Status: wire.StatusOK}); d != correlate.Unmatched {
		t.Errorf("post-failure disposition = %v, want %v", d, correlate.Unmatched)
	}
}

func TestIssueRejectionAfterAccepted(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusAccepted, "")
		respond(correlator, "42", wire.StatusInternalError, "issuance backend down")
	}

	result := exchange.Issue(context.Background(), testRequest())

	if result.Outcome != OutcomeFailure {
		t.Fatalf("Outcome = %v, want FAILURE", result.Outcome)
	}
	if result.Accepted == nil {
		t.Error("Accepted should carry the 202 that arrived before the rejection")
	}

	var protoErr *ProtocolError
	if !errors.As(result.Err, &protoErr) {
		t.Fatalf("Err type = %T, want *ProtocolError", result.Err)
	}
	if protoErr.Status != wire.StatusInternalError {
		t.Errorf("Status = %v, want 500", protoErr.Status)
	}
}

func TestIssueTimesOutWithoutResponses(t *testing.T) {
	pub := &fakePublisher{}
	exchange, _ := newTestExchange(t, pub)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := exchange.Issue(ctx, testRequest())

	if result.Outcome != OutcomeTimeout {
		t.Fatalf("Outcome = %v, want TIMEOUT", result.Outcome)
	}
	if result.State != StateTimedOut {
		t.Errorf("State = %v, want TimedOut", result.State)
	}
	if !errors.Is(result.Err, ErrTimeout) {
		t.Errorf("Err = %v, want wrapped ErrTimeout", result.Err)
	}
	// A timeout is not a failure
	if result.Outcome == OutcomeFailure {
		t.Error("timeout must not be classified as failure")
	}
}

func TestIssueTimesOutAfterAccepted(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusAccepted, "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := exchange.Issue(ctx, testRequest())

	if result.Outcome != OutcomeTimeout {
		t.Fatalf("Outcome = %v, want TIMEOUT", result.Outcome)
	}
	if result.Accepted == nil {
		t.Error("Accepted should carry the 202 that arrived before the deadline")
	}
	assertStates(t, result.Transitions,
		StateIdle, StatePublishing, StateAwaitingAccepted, StateAwaitingResult, StateTimedOut)
}

func TestIssueResultBeforeAccepted(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	// The hub's responses travel independently; the result can overtake
	// the acknowledgment
	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusOK, "cert-material")
	}

	result := exchange.Issue(context.Background(), testRequest())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err: %v), want SUCCESS", result.Outcome, result.Err)
	}
	if result.Certificate != "cert-material" {
		t.Errorf("Certificate = %q, want raw body fallback", result.Certificate)
	}
	if result.Accepted != nil {
		t.Error("no 202 arrived, Accepted should be nil")
	}

	last := result.Transitions[len(result.Transitions)-1]
	if !strings.Contains(last.Note, "before acknowledgment") {
		t.Errorf("final transition note = %q, want ordering anomaly recorded", last.Note)
	}
}

func TestIssueIgnoresDuplicateAccepted(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusAccepted, "")
		respond(correlator, "42", wire.StatusAccepted, "")
		respond(correlator, "42", wire.StatusOK, "cert")
	}

	result := exchange.Issue(context.Background(), testRequest())

	if result.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err: %v), want SUCCESS", result.Outcome, result.Err)
	}
	assertStates(t, result.Transitions,
		StateIdle, StatePublishing, StateAwaitingAccepted, StateAwaitingResult, StateResolved)
}

func TestIssueValidatesRequest(t *testing.T) {
	pub := &fakePublisher{}
	exchange, _ := newTestExchange(t, pub)

	result := exchange.Issue(context.Background(), wire.Request{RequestID: "42"})

	if result.Outcome != OutcomeFailure {
		t.Fatalf("Outcome = %v, want FAILURE", result.Outcome)
	}
	if len(pub.published) != 0 {
		t.Error("invalid request must not be published")
	}
}

func TestIssueFailsOnDuplicateRegistration(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	// Another exchange already owns this request ID
	if _, err := correlator.Register("42", []wire.Status{wire.StatusOK}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result := exchange.Issue(context.Background(), testRequest())

	if result.Outcome != OutcomeFailure {
		t.Fatalf("Outcome = %v, want FAILURE", result.Outcome)
	}
	if !errors.Is(result.Err, correlate.ErrDuplicateID) {
		t.Errorf("Err = %v, want wrapped ErrDuplicateID", result.Err)
	}
}

func TestIssueRejectsConcurrentCalls(t *testing.T) {
	pub := &fakePublisher{}
	exchange, _ := newTestExchange(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultCh := make(chan Result, 1)
	go func() { resultCh <- exchange.Issue(ctx, testRequest()) }()

	// Wait for the first exchange to reach a waiting state
	deadline := time.Now().Add(2 * time.Second)
	for exchange.State() != StateAwaitingAccepted {
		if time.Now().After(deadline) {
			t.Fatal("first exchange never reached AwaitingAccepted")
		}
		time.Sleep(time.Millisecond)
	}

	second := exchange.Issue(context.Background(), wire.Request{
		RequestID: "43",
		DeviceID:  "device00042",
	})
	if !errors.Is(second.Err, ErrInFlight) {
		t.Errorf("second Issue err = %v, want ErrInFlight", second.Err)
	}

	cancel()
	<-resultCh
}

func TestIssueIsReusableAcrossExchanges(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	ids := []string{"1001", "1002"}
	i := 0
	pub.afterPublish = func() {
		respond(correlator, ids[i], wire.StatusAccepted, "")
		respond(correlator, ids[i], wire.StatusOK, "cert")
		i++
	}

	for _, id := range ids {
		result := exchange.Issue(context.Background(), wire.Request{
			RequestID: id,
			DeviceID:  "device00042",
			CSR:       wire.MockCSR,
		})
		if result.Outcome != OutcomeSuccess {
			t.Fatalf("exchange %s: Outcome = %v (err: %v), want SUCCESS", id, result.Outcome, result.Err)
		}
	}
}

func TestIssueCanceledWaiter(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	pub.afterPublish = func() {
		correlator.Cancel("42")
	}

	result := exchange.Issue(context.Background(), testRequest())

	if result.Outcome != OutcomeFailure {
		t.Fatalf("Outcome = %v, want FAILURE", result.Outcome)
	}
	if !errors.Is(result.Err, ErrCanceled) {
		t.Errorf("Err = %v, want ErrCanceled", result.Err)
	}
}

func TestOnTransitionObservesEveryChange(t *testing.T) {
	pub := &fakePublisher{}

	quiet := slog.New(slog.DiscardHandler)
	correlator := correlate.New(quiet)

	var mu sync.Mutex
	var observed []State
	exchange, err := New(Config{
		Publisher:  pub,
		Correlator: correlator,
		Logger:     quiet,
		OnTransition: func(tr Transition) {
			mu.Lock()
			observed = append(observed, tr.To)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusAccepted, "")
		respond(correlator, "42", wire.StatusOK, "cert")
	}

	result := exchange.Issue(context.Background(), testRequest())
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err: %v), want SUCCESS", result.Outcome, result.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StatePublishing, StateAwaitingAccepted, StateAwaitingResult, StateResolved}
	if len(observed) != len(want) {
		t.Fatalf("observed %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Fatalf("observed %v, want %v", observed, want)
		}
	}
}

func TestOnTransitionMayQueryExchange(t *testing.T) {
	pub := &fakePublisher{}

	quiet := slog.New(slog.DiscardHandler)
	correlator := correlate.New(quiet)

	var exchange *Exchange
	var states []State
	var err error
	exchange, err = New(Config{
		Publisher:  pub,
		Correlator: correlator,
		Logger:     quiet,
		OnTransition: func(Transition) {
			// Observers run outside the exchange mutex
			states = append(states, exchange.State())
		},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusOK, "cert")
	}

	result := exchange.Issue(context.Background(), testRequest())
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v (err: %v), want SUCCESS", result.Outcome, result.Err)
	}
	if len(states) == 0 {
		t.Fatal("observer never ran")
	}
}

func TestIssueElapsedIsPositive(t *testing.T) {
	pub := &fakePublisher{}
	exchange, correlator := newTestExchange(t, pub)

	pub.afterPublish = func() {
		respond(correlator, "42", wire.StatusAccepted, "")
		respond(correlator, "42", wire.StatusOK, "cert")
	}

	result := exchange.Issue(context.Background(), testRequest())
	if result.Elapsed <= 0 {
		t.Errorf("Elapsed = %v, want > 0", result.Elapsed)
	}
}
