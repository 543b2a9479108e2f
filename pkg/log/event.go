package log

import (
	"time"

	"github.com/hubcred/hubcred-go/pkg/wire"
)

// MaxPayloadCapture limits how many payload bytes are stored per event.
// Certificate bodies can run to several kilobytes; the capture keeps
// enough to identify the message without bloating log files.
const MaxPayloadCapture = 512

// Event is a single protocol log entry.
// Integer CBOR keys keep serialized events compact.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the MQTT session this event belongs to.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction of the event relative to the client.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category of the event.
	Category Category `cbor:"5,keyasint"`

	// DeviceID is the device identity on this connection.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// HubHost is the broker hostname for this connection.
	HubHost string `cbor:"7,keyasint,omitempty"`

	// Payload data - exactly one of these is set based on Category.

	// Message contains decoded message data for CategoryMessage.
	Message *MessageEvent `cbor:"10,keyasint,omitempty"`

	// StateChange contains lifecycle data for CategoryState.
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`

	// ControlMsg contains session control data for CategoryControl.
	ControlMsg *ControlMsgEvent `cbor:"12,keyasint,omitempty"`

	// Error contains error data for CategoryError.
	Error *ErrorEventData `cbor:"13,keyasint,omitempty"`
}

// Direction indicates message flow relative to the client.
type Direction uint8

const (
	// DirectionIn is hub-to-client.
	DirectionIn Direction = 0
	// DirectionOut is client-to-hub.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where in the stack an event was captured.
type Layer uint8

const (
	// LayerTransport is the MQTT session layer.
	LayerTransport Layer = 0
	// LayerProtocol is the issuance request/response layer.
	LayerProtocol Layer = 1
	// LayerScenario is the test scenario layer.
	LayerScenario Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerScenario:
		return "SCENARIO"
	default:
		return "UNKNOWN"
	}
}

// Category indicates the kind of event.
type Category uint8

const (
	// CategoryMessage is a protocol message (request or response).
	CategoryMessage Category = 0
	// CategoryControl is session control traffic (connect, subscribe).
	CategoryControl Category = 1
	// CategoryState is a lifecycle state change.
	CategoryState Category = 2
	// CategoryError is an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MessageEvent captures a decoded issuance message.
type MessageEvent struct {
	// Type of message.
	Type MessageType `cbor:"1,keyasint"`

	// RequestID is the correlation identifier carried in the topic.
	RequestID string `cbor:"2,keyasint,omitempty"`

	// Topic the message was published or received on.
	Topic string `cbor:"3,keyasint,omitempty"`

	// Status is the response status code (responses only).
	Status *wire.Status `cbor:"4,keyasint,omitempty"`

	// Qos is the MQTT quality-of-service level.
	Qos byte `cbor:"5,keyasint,omitempty"`

	// Size is the full payload size in bytes.
	Size int `cbor:"6,keyasint"`

	// Payload is the message body, truncated to MaxPayloadCapture.
	Payload []byte `cbor:"7,keyasint,omitempty"`

	// Truncated indicates the payload was cut at MaxPayloadCapture.
	Truncated bool `cbor:"8,keyasint,omitempty"`
}

// MessageType indicates the kind of protocol message.
type MessageType uint8

const (
	// MessageTypeRequest is a client-initiated issuance request.
	MessageTypeRequest MessageType = 0
	// MessageTypeResponse is a hub response.
	MessageTypeResponse MessageType = 1
)

// String returns the message type name.
func (m MessageType) String() string {
	switch m {
	case MessageTypeRequest:
		return "REQUEST"
	case MessageTypeResponse:
		return "RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// StateChangeEvent captures session, exchange, and scenario lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntitySession indicates an MQTT session state change.
	StateEntitySession StateEntity = 0
	// StateEntityExchange indicates an issuance exchange state change.
	StateEntityExchange StateEntity = 1
	// StateEntityScenario indicates a scenario state change.
	StateEntityScenario StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntitySession:
		return "SESSION"
	case StateEntityExchange:
		return "EXCHANGE"
	case StateEntityScenario:
		return "SCENARIO"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures MQTT session control traffic.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Detail carries optional context such as the broker address or a
	// topic filter.
	Detail string `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	// ControlMsgConnect indicates a connect attempt.
	ControlMsgConnect ControlMsgType = 0
	// ControlMsgConnAck indicates a connect acknowledgment.
	ControlMsgConnAck ControlMsgType = 1
	// ControlMsgSubscribe indicates a subscribe request.
	ControlMsgSubscribe ControlMsgType = 2
	// ControlMsgSubAck indicates a subscribe acknowledgment.
	ControlMsgSubAck ControlMsgType = 3
	// ControlMsgDisconnect indicates a clean disconnect.
	ControlMsgDisconnect ControlMsgType = 4
	// ControlMsgConnLost indicates an unexpected connection loss.
	ControlMsgConnLost ControlMsgType = 5
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgConnect:
		return "CONNECT"
	case ControlMsgConnAck:
		return "CONNACK"
	case ControlMsgSubscribe:
		return "SUBSCRIBE"
	case ControlMsgSubAck:
		return "SUBACK"
	case ControlMsgDisconnect:
		return "DISCONNECT"
	case ControlMsgConnLost:
		return "CONNLOST"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the response status code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what the client was doing when the error occurred.
	Context string `cbor:"4,keyasint,omitempty"`
}

// CapturePayload returns body truncated to MaxPayloadCapture and whether
// truncation happened. Callers record the original length in Size.
func CapturePayload(body []byte) ([]byte, bool) {
	if len(body) <= MaxPayloadCapture {
		return body, false
	}
	return body[:MaxPayloadCapture], true
}
