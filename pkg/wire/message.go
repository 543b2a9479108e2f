package wire

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MockCSR is the placeholder base64 certificate-signing request used when
// the caller does not supply a real one.
const MockCSR = "TU9DSyBDU1I="

// Request ids are decimal strings drawn from [1, maxRequestID], matching
// the range the hub echoes back unchanged in $rid.
const maxRequestID = 99999999

var (
	ridMu  sync.Mutex
	ridRng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewRequestID returns a fresh correlation id for one issuance exchange.
func NewRequestID() string {
	ridMu.Lock()
	defer ridMu.Unlock()
	return fmt.Sprintf("%d", ridRng.Intn(maxRequestID)+1)
}

// Request is one certificate-issuance request. Only DeviceID and CSR
// travel in the JSON payload; the correlation id rides in the topic and
// the API version in the connection username. A Request is immutable
// once published.
type Request struct {
	RequestID  string    `json:"-"`
	DeviceID   string    `json:"id"`
	CSR        string    `json:"csr,omitempty"`
	APIVersion string    `json:"-"`
	CreatedAt  time.Time `json:"-"`
}

// NewRequest builds an issuance request for the device with a generated
// correlation id. An empty csr falls back to MockCSR.
func NewRequest(deviceID, csr string) Request {
	if csr == "" {
		csr = MockCSR
	}
	return Request{
		RequestID:  NewRequestID(),
		DeviceID:   deviceID,
		CSR:        csr,
		APIVersion: DefaultAPIVersion,
		CreatedAt:  time.Now(),
	}
}

// Validate checks that the request can be published.
func (r Request) Validate() error {
	if r.DeviceID == "" {
		return fmt.Errorf("wire: request has no device id")
	}
	if r.RequestID == "" {
		return fmt.Errorf("wire: request has no correlation id")
	}
	return nil
}

// Topic returns the publish topic for this request.
func (r Request) Topic() string {
	return RequestTopic(r.RequestID)
}

// EncodeRequest validates the request and serializes its JSON payload.
func EncodeRequest(r Request) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

// Response is one inbound credential response, assembled from the
// response topic (status, $rid, $version) and the message payload.
type Response struct {
	RequestID  string
	Status     Status
	Body       []byte
	Version    int
	ReceivedAt time.Time
}

// ParseResponse assembles a Response from an inbound message.
func ParseResponse(topic string, payload []byte, receivedAt time.Time) (Response, error) {
	status, rid, version, err := ParseResponseTopic(topic)
	if err != nil {
		return Response{}, err
	}
	return Response{
		RequestID:  rid,
		Status:     status,
		Body:       payload,
		Version:    version,
		ReceivedAt: receivedAt,
	}, nil
}

// Certificate extracts the certificate material from a result body.
// The hub wraps it as {"certificate": "<PEM>"}; a body that is not that
// JSON shape is treated as the raw certificate text. ok is false when
// the response carries no material at all.
func (r Response) Certificate() (material string, ok bool) {
	if len(r.Body) == 0 {
		return "", false
	}
	var wrapped struct {
		Certificate string `json:"certificate"`
	}
	if err := json.Unmarshal(r.Body, &wrapped); err == nil && wrapped.Certificate != "" {
		return wrapped.Certificate, true
	}
	return string(r.Body), true
}
