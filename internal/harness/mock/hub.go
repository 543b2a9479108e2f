// Package mock provides an in-process hub for scenario and integration
// tests. Hub implements transport.Session, so runner code drives it the
// same way it drives a live broker session, while the hub side answers
// issuance requests from a configurable reply script.
package mock

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hubcred/hubcred-go/pkg/transport"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

// Reply is one scripted response to an issuance request.
type Reply struct {
	// Status is carried on the response topic.
	Status wire.Status

	// Body is the response payload.
	Body []byte

	// Delay postpones delivery relative to receipt of the request.
	Delay time.Duration
}

// DefaultCertificatePEM is the material issued by the default plan.
const DefaultCertificatePEM = "-----BEGIN CERTIFICATE-----\nTU9DSyBDRVJUSUZJQ0FURQ==\n-----END CERTIFICATE-----\n"

// DefaultPlan acknowledges a request immediately with 202 and follows up
// with a 200 carrying DefaultCertificatePEM.
func DefaultPlan() []Reply {
	return []Reply{
		{Status: wire.StatusAccepted},
		{Status: wire.StatusOK, Body: CertificateBody(DefaultCertificatePEM), Delay: 5 * time.Millisecond},
	}
}

// CertificateBody renders the JSON result body wrapping certificate material.
func CertificateBody(pem string) []byte {
	body, _ := json.Marshal(map[string]string{"certificate": pem})
	return body
}

// Hub is an in-memory hub session. The session side (Connect, Subscribe,
// Publish, Disconnect) satisfies transport.Session; the hub side decodes
// published issuance requests and answers them according to Plan.
//
// Responses that cannot be delivered, because the session is disconnected
// or holds no matching subscription, are held and redelivered on the next
// matching Subscribe. This models the hub's QoS 1 queue across a
// disconnect/reconnect cycle.
//
// Configure the exported fields before first use; they are not safe to
// change while a scenario is running.
type Hub struct {
	// Plan is the reply sequence for each received request.
	// Nil means DefaultPlan().
	Plan []Reply

	// FailConnects rejects that many Connect calls with a ConnectError
	// before connecting normally.
	FailConnects int

	// FailSubscribes rejects that many Subscribe calls with a
	// SubscribeError.
	FailSubscribes int

	// FailPublishes rejects that many Publish calls with a PublishError.
	FailPublishes int

	id string

	mu        sync.Mutex
	connected bool
	connects  int
	subs      map[string]transport.Handler
	held      []transport.Message
	requests  []wire.Request
	lost      chan error
	replies   sync.WaitGroup
}

// Compile-time interface satisfaction check.
var _ transport.Session = (*Hub)(nil)

// NewHub creates a disconnected hub with the default reply plan.
func NewHub() *Hub {
	return &Hub{
		id:   uuid.NewString(),
		subs: make(map[string]transport.Handler),
		lost: make(chan error, 4),
	}
}

// ID returns the session's connection identifier.
func (h *Hub) ID() string { return h.id }

// Connect establishes the session. A connected hub treats Connect as a
// no-op, mirroring the real transport.
func (h *Hub) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.connected {
		return nil
	}
	if h.FailConnects > 0 {
		h.FailConnects--
		return &transport.ConnectError{Broker: "mock://" + h.id, Err: ErrConnectRefused}
	}
	h.connected = true
	h.connects++
	return nil
}

// Subscribe registers handler for topics matching filter and redelivers
// any held responses the filter matches.
func (h *Hub) Subscribe(ctx context.Context, filter string, qos byte, handler transport.Handler) error {
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return &transport.SubscribeError{Filter: filter, Err: transport.ErrNotConnected}
	}
	if h.FailSubscribes > 0 {
		h.FailSubscribes--
		h.mu.Unlock()
		return &transport.SubscribeError{Filter: filter, Err: ErrSubscribeRefused}
	}
	h.subs[filter] = handler

	var flush, keep []transport.Message
	for _, msg := range h.held {
		if topicMatches(filter, msg.Topic) {
			flush = append(flush, msg)
		} else {
			keep = append(keep, msg)
		}
	}
	h.held = keep
	h.mu.Unlock()

	for _, msg := range flush {
		handler(msg)
	}
	return nil
}

// Publish accepts a message from the session. An issuance request starts
// the reply script for its correlation id; anything else is accepted and
// ignored, as a broker would.
func (h *Hub) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return &transport.PublishError{Topic: topic, Err: transport.ErrNotConnected}
	}
	if h.FailPublishes > 0 {
		h.FailPublishes--
		h.mu.Unlock()
		return &transport.PublishError{Topic: topic, Err: ErrPublishRefused}
	}
	plan := h.Plan
	h.mu.Unlock()

	rid, err := wire.ParseRequestTopic(topic)
	if err != nil {
		return nil
	}

	var req wire.Request
	if len(payload) > 0 {
		_ = json.Unmarshal(payload, &req)
	}
	req.RequestID = rid
	req.CreatedAt = time.Now()

	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()

	if plan == nil {
		plan = DefaultPlan()
	}
	h.replies.Add(1)
	go h.answer(rid, plan)
	return nil
}

// Disconnect cleanly closes the session. Subscriptions die with the
// connection; held responses survive for the next one.
func (h *Hub) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.connected {
		return
	}
	h.connected = false
	h.subs = make(map[string]transport.Handler)
}

// Connected reports whether the session is currently connected.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

// Lost delivers the reason for each unexpected connection loss.
func (h *Hub) Lost() <-chan error { return h.lost }

// DropConnection severs the session as an unexpected loss, surfacing err
// on the Lost channel. A nil err reports ErrConnectionDropped.
func (h *Hub) DropConnection(err error) {
	if err == nil {
		err = ErrConnectionDropped
	}
	h.mu.Lock()
	if !h.connected {
		h.mu.Unlock()
		return
	}
	h.connected = false
	h.subs = make(map[string]transport.Handler)
	h.mu.Unlock()

	select {
	case h.lost <- err:
	default:
	}
}

// Requests returns the issuance requests received so far, decoded from
// their publish payloads with the correlation id taken from the topic.
func (h *Hub) Requests() []wire.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]wire.Request, len(h.requests))
	copy(out, h.requests)
	return out
}

// ConnectCount returns how many times the session has connected.
func (h *Hub) ConnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connects
}

// Quiesce blocks until every in-flight reply script has finished; each
// reply has then either been delivered or held.
func (h *Hub) Quiesce() {
	h.replies.Wait()
}

// answer runs the reply script for one request.
func (h *Hub) answer(rid string, plan []Reply) {
	defer h.replies.Done()
	for _, reply := range plan {
		if reply.Delay > 0 {
			time.Sleep(reply.Delay)
		}
		h.deliver(transport.Message{
			Topic:   wire.ResponseTopic(reply.Status, rid),
			Payload: reply.Body,
			Qos:     1,
		})
	}
}

// deliver hands a response to the matching subscription, or holds it when
// none can take it.
func (h *Hub) deliver(msg transport.Message) {
	h.mu.Lock()
	var handler transport.Handler
	if h.connected {
		for filter, sub := range h.subs {
			if topicMatches(filter, msg.Topic) {
				handler = sub
				break
			}
		}
	}
	if handler == nil {
		h.held = append(h.held, msg)
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	handler(msg)
}

// topicMatches covers the filter shapes the harness uses: exact topics
// and trailing multi-level wildcards.
func topicMatches(filter, topic string) bool {
	if strings.HasSuffix(filter, "#") {
		return strings.HasPrefix(topic, strings.TrimSuffix(filter, "#"))
	}
	return filter == topic
}
