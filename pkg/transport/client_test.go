package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hubcred/hubcred-go/pkg/credential"
	"github.com/hubcred/hubcred-go/pkg/log"
)

// fakeToken is a completed paho token carrying an optional error.
type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	done := make(chan struct{})
	close(done)
	return &fakeToken{err: err, done: done}
}

// pendingToken never completes; used to exercise context cancellation.
func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type publishRecord struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeMQTT is an in-memory stand-in for the paho client.
type fakeMQTT struct {
	mu           sync.Mutex
	connectErr   error
	connectHangs bool
	publishErr   error
	subscribeErr error

	connectCalls int
	disconnects  int
	published    []publishRecord
	handlers     map[string]mqtt.MessageHandler
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTT) IsConnected() bool { return true }

func (f *fakeMQTT) IsConnectionOpen() bool { return true }

func (f *fakeMQTT) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectCalls++
	if f.connectHangs {
		return pendingToken()
	}
	return completedToken(f.connectErr)
}

func (f *fakeMQTT) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return completedToken(f.publishErr)
	}
	f.published = append(f.published, publishRecord{
		topic:   topic,
		qos:     qos,
		payload: append([]byte(nil), payload.([]byte)...),
	})
	return completedToken(nil)
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return completedToken(f.subscribeErr)
	}
	f.handlers[topic] = callback
	return completedToken(nil)
}

func (f *fakeMQTT) SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token {
	return completedToken(nil)
}

func (f *fakeMQTT) Unsubscribe(topics ...string) mqtt.Token {
	return completedToken(nil)
}

func (f *fakeMQTT) AddRoute(topic string, callback mqtt.MessageHandler) {}

func (f *fakeMQTT) OptionsReader() mqtt.ClientOptionsReader {
	return mqtt.ClientOptionsReader{}
}

// deliver pushes an incoming message through the registered handler.
func (f *fakeMQTT) deliver(filter, topic string, qos byte, payload []byte) bool {
	f.mu.Lock()
	handler, ok := f.handlers[filter]
	f.mu.Unlock()
	if !ok {
		return false
	}
	handler(f, &fakeMessage{topic: topic, qos: qos, payload: payload})
	return true
}

// fakeMessage implements mqtt.Message for delivery tests.
type fakeMessage struct {
	topic   string
	qos     byte
	payload []byte
}

func (m *fakeMessage) Duplicate() bool { return false }

func (m *fakeMessage) Qos() byte { return m.qos }

func (m *fakeMessage) Retained() bool { return false }

func (m *fakeMessage) Topic() string { return m.topic }

func (m *fakeMessage) MessageID() uint16 { return 1 }

func (m *fakeMessage) Payload() []byte { return m.payload }

func (m *fakeMessage) Ack() {}

// stubCredential counts password generations.
type stubCredential struct {
	mu        sync.Mutex
	passwords int
}

func (s *stubCredential) Method() credential.Method { return credential.MethodSAS }

func (s *stubCredential) TLSConfig() (*tls.Config, error) {
	return &tls.Config{MinVersion: tls.VersionTLS12}, nil
}

func (s *stubCredential) Password(resourceURI string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords++
	return fmt.Sprintf("token-%d", s.passwords), nil
}

// eventRecorder captures protocol events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *eventRecorder) Log(event log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) controlTypes() []log.ControlMsgType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []log.ControlMsgType
	for _, e := range r.events {
		if e.ControlMsg != nil {
			types = append(types, e.ControlMsg.Type)
		}
	}
	return types
}

func (r *eventRecorder) lastStateChange() *log.StateChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].StateChange != nil {
			return r.events[i].StateChange
		}
	}
	return nil
}

// newTestClient wires a Client to a fake paho client.
func newTestClient(t *testing.T, fake *fakeMQTT, recorder *eventRecorder) *Client {
	t.Helper()

	orig := newMQTTClient
	newMQTTClient = func(*mqtt.ClientOptions) mqtt.Client { return fake }
	t.Cleanup(func() { newMQTTClient = orig })

	var protocolLogger log.Logger = log.NoopLogger{}
	if recorder != nil {
		protocolLogger = recorder
	}

	c, err := New(Config{
		Host:           "hub.example.net",
		DeviceID:       "device00042",
		Credential:     &stubCredential{},
		Logger:         slog.New(slog.DiscardHandler),
		ProtocolLogger: protocolLogger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing host", Config{DeviceID: "d", Credential: &stubCredential{}}},
		{"missing device", Config{Host: "h", Credential: &stubCredential{}}},
		{"missing credential", Config{Host: "h", DeviceID: "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestConnectTransitionsState(t *testing.T) {
	fake := newFakeMQTT()
	recorder := &eventRecorder{}
	c := newTestClient(t, fake, recorder)

	if c.Connected() {
		t.Fatal("new client should start disconnected")
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !c.Connected() {
		t.Error("client should be connected")
	}
	if c.State() != StateConnected {
		t.Errorf("State = %v, want %v", c.State(), StateConnected)
	}

	types := recorder.controlTypes()
	if len(types) != 2 || types[0] != log.ControlMsgConnect || types[1] != log.ControlMsgConnAck {
		t.Errorf("control events = %v, want [CONNECT CONNACK]", types)
	}
	if sc := recorder.lastStateChange(); sc == nil || sc.NewState != "CONNECTED" {
		t.Errorf("last state change = %+v, want transition to CONNECTED", sc)
	}
}

func TestConnectIsNoopWhenConnected(t *testing.T) {
	fake := newFakeMQTT()
	c := newTestClient(t, fake, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	if fake.connectCalls != 1 {
		t.Errorf("connect calls = %d, want 1", fake.connectCalls)
	}
}

func TestConnectFailure(t *testing.T) {
	fake := newFakeMQTT()
	fake.connectErr = errors.New("not authorized")
	c := newTestClient(t, fake, nil)

	err := c.Connect(context.Background())
	var connErr *ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("error type = %T, want *ConnectError", err)
	}
	if !strings.Contains(connErr.Error(), "not authorized") {
		t.Errorf("error message %q should carry the cause", connErr.Error())
	}
	if c.Connected() {
		t.Error("client should remain disconnected after a failed connect")
	}
}

func TestConnectHonorsContext(t *testing.T) {
	fake := newFakeMQTT()
	fake.connectHangs = true
	c := newTestClient(t, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Connect(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		var connErr *ConnectError
		if !errors.As(err, &connErr) {
			t.Fatalf("error type = %T, want *ConnectError", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want wrapped context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Connect did not return after cancel")
	}

	if c.Connected() {
		t.Error("client should be disconnected after cancelled connect")
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	fake := newFakeMQTT()
	c := newTestClient(t, fake, nil)

	err := c.Publish(context.Background(), "some/topic", 1, []byte("x"))
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("error type = %T, want *PublishError", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want wrapped ErrNotConnected", err)
	}
}

func TestPublishDeliversPayload(t *testing.T) {
	fake := newFakeMQTT()
	c := newTestClient(t, fake, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := c.Publish(context.Background(), "req/topic", 1, []byte(`{"id":"d"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if len(fake.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(fake.published))
	}
	rec := fake.published[0]
	if rec.topic != "req/topic" || rec.qos != 1 || string(rec.payload) != `{"id":"d"}` {
		t.Errorf("published record = %+v", rec)
	}
}

func TestPublishFailure(t *testing.T) {
	fake := newFakeMQTT()
	fake.publishErr = errors.New("broker rejected")
	c := newTestClient(t, fake, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	err := c.Publish(context.Background(), "req/topic", 1, []byte("x"))
	var pubErr *PublishError
	if !errors.As(err, &pubErr) {
		t.Fatalf("error type = %T, want *PublishError", err)
	}
	if pubErr.Topic != "req/topic" {
		t.Errorf("PublishError.Topic = %q, want %q", pubErr.Topic, "req/topic")
	}
}

func TestSubscribeRequiresConnection(t *testing.T) {
	fake := newFakeMQTT()
	c := newTestClient(t, fake, nil)

	err := c.Subscribe(context.Background(), "res/#", 1, func(Message) {})
	var subErr *SubscribeError
	if !errors.As(err, &subErr) {
		t.Fatalf("error type = %T, want *SubscribeError", err)
	}
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want wrapped ErrNotConnected", err)
	}
}

func TestSubscribeRoutesMessages(t *testing.T) {
	fake := newFakeMQTT()
	c := newTestClient(t, fake, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	received := make(chan Message, 1)
	err := c.Subscribe(context.Background(), "res/#", 1, func(msg Message) {
		received <- msg
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !fake.deliver("res/#", "res/202", 1, []byte("accepted")) {
		t.Fatal("no handler registered for res/#")
	}

	select {
	case msg := <-received:
		if msg.Topic != "res/202" {
			t.Errorf("Topic = %q, want %q", msg.Topic, "res/202")
		}
		if string(msg.Payload) != "accepted" {
			t.Errorf("Payload = %q, want %q", msg.Payload, "accepted")
		}
		if msg.Qos != 1 {
			t.Errorf("Qos = %d, want 1", msg.Qos)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	fake := newFakeMQTT()
	c := newTestClient(t, fake, nil)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	c.Disconnect()
	c.Disconnect()

	if fake.disconnects != 1 {
		t.Errorf("Disconnect reached the MQTT client %d times, want 1", fake.disconnects)
	}
	if c.Connected() {
		t.Error("client should be disconnected")
	}
}

func TestConnectionLostNotifies(t *testing.T) {
	fake := newFakeMQTT()
	recorder := &eventRecorder{}
	c := newTestClient(t, fake, recorder)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	cause := errors.New("broken pipe")
	c.onConnectionLost(nil, cause)

	if c.Connected() {
		t.Error("client should be disconnected after connection loss")
	}

	select {
	case err := <-c.Lost():
		if !errors.Is(err, cause) {
			t.Errorf("Lost delivered %v, want %v", err, cause)
		}
	default:
		t.Fatal("Lost did not deliver the loss event")
	}

	types := recorder.controlTypes()
	if len(types) == 0 || types[len(types)-1] != log.ControlMsgConnLost {
		t.Errorf("control events = %v, want trailing CONNLOST", types)
	}
}

func TestCredentialsAreFreshPerAttempt(t *testing.T) {
	fake := newFakeMQTT()
	c := newTestClient(t, fake, nil)

	user1, pass1 := c.credentials()
	user2, pass2 := c.credentials()

	if user1 != user2 {
		t.Errorf("username changed between attempts: %q vs %q", user1, user2)
	}
	if !strings.Contains(user1, "hub.example.net/device00042/?api-version=") {
		t.Errorf("username = %q, want hub username convention", user1)
	}
	if pass1 == pass2 {
		t.Error("password should be regenerated per connect attempt")
	}
}
