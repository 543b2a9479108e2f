package issuance

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/hubcred/hubcred-go/pkg/correlate"
	"github.com/hubcred/hubcred-go/pkg/log"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

// eventSink captures protocol events for router tests.
type eventSink struct {
	mu     sync.Mutex
	events []log.Event
}

func (s *eventSink) Log(event log.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *eventSink) messages() []*log.MessageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var msgs []*log.MessageEvent
	for _, e := range s.events {
		if e.Message != nil {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

func newTestRouter(t *testing.T, sink *eventSink) (*Router, *correlate.Correlator) {
	t.Helper()

	quiet := slog.New(slog.DiscardHandler)
	correlator := correlate.New(quiet)

	var protocolLogger log.Logger = log.NoopLogger{}
	if sink != nil {
		protocolLogger = sink
	}

	router, err := NewRouter(RouterConfig{
		Correlator:     correlator,
		ConnectionID:   "conn-router",
		DeviceID:       "device00042",
		HubHost:        "hub.example.net",
		Logger:         quiet,
		ProtocolLogger: protocolLogger,
	})
	if err != nil {
		t.Fatalf("NewRouter failed: %v", err)
	}
	return router, correlator
}

func TestNewRouterRequiresCorrelator(t *testing.T) {
	if _, err := NewRouter(RouterConfig{}); err == nil {
		t.Error("expected error for missing correlator")
	}
}

func TestRouterDeliversResponses(t *testing.T) {
	router, correlator := newTestRouter(t, nil)

	ch, err := correlator.Register("8675309", []wire.Status{wire.StatusAccepted, wire.StatusOK})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	router.Handle("$iothub/credentials/res/202/?$rid=8675309&$version=1", []byte(""))

	select {
	case resp := <-ch:
		if resp.RequestID != "8675309" {
			t.Errorf("RequestID = %q, want %q", resp.RequestID, "8675309")
		}
		if resp.Status != wire.StatusAccepted {
			t.Errorf("Status = %v, want 202", resp.Status)
		}
		if resp.Version != 1 {
			t.Errorf("Version = %d, want 1", resp.Version)
		}
	default:
		t.Fatal("response was not routed to the waiter")
	}
}

func TestRouterIgnoresForeignTopics(t *testing.T) {
	router, correlator := newTestRouter(t, nil)

	ch, err := correlator.Register("1", []wire.Status{wire.StatusOK})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Not a credential response topic: must not panic, must not route
	router.Handle("$iothub/twin/res/200/?$rid=1", []byte("{}"))
	router.Handle("devices/telemetry", []byte("reading"))
	router.Handle("", nil)

	select {
	case resp := <-ch:
		t.Fatalf("unexpected routed response: %+v", resp)
	default:
	}
}

func TestRouterLogsResponseEvents(t *testing.T) {
	sink := &eventSink{}
	router, _ := newTestRouter(t, sink)

	router.Handle("$iothub/credentials/res/200/?$rid=55", []byte(`{"certificate":"PEM"}`))

	msgs := sink.messages()
	if len(msgs) != 1 {
		t.Fatalf("logged %d message events, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.Type != log.MessageTypeResponse {
		t.Errorf("Type = %v, want RESPONSE", msg.Type)
	}
	if msg.RequestID != "55" {
		t.Errorf("RequestID = %q, want %q", msg.RequestID, "55")
	}
	if msg.Status == nil || *msg.Status != wire.StatusOK {
		t.Errorf("Status = %v, want 200", msg.Status)
	}
	if msg.Size != len(`{"certificate":"PEM"}`) {
		t.Errorf("Size = %d, want payload length", msg.Size)
	}
}

func TestRouterDiscardsUnmatchedQuietly(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	// No waiter registered; the response is discarded without error
	router.Handle("$iothub/credentials/res/200/?$rid=404404", []byte("late"))
}
