package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/hubcred/hubcred-go/pkg/credential"
	"github.com/hubcred/hubcred-go/pkg/log"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

// Connection defaults.
const (
	// DefaultPort is the MQTT-over-TLS port.
	DefaultPort = 8883

	// DefaultKeepAlive is the MQTT keepalive interval.
	DefaultKeepAlive = 60 * time.Second

	// DefaultConnectTimeout bounds a single connect attempt.
	DefaultConnectTimeout = 30 * time.Second

	// disconnectQuiesce is how long Disconnect waits for in-flight
	// work, in milliseconds.
	disconnectQuiesce = 250
)

// State represents the session state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Config configures a hub session.
type Config struct {
	// Host is the hub hostname.
	Host string

	// Port is the MQTT-over-TLS port (default: 8883).
	Port int

	// DeviceID is the device identity; it doubles as the MQTT client ID.
	DeviceID string

	// APIVersion selects the hub API version carried in the username
	// (default: wire.DefaultAPIVersion).
	APIVersion string

	// Credential authenticates the session.
	Credential credential.Credential

	// KeepAlive is the MQTT keepalive interval (default: 60s).
	KeepAlive time.Duration

	// ConnectTimeout bounds a single connect attempt (default: 30s).
	ConnectTimeout time.Duration

	// Logger receives operational log output. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives protocol events. Defaults to NoopLogger.
	ProtocolLogger log.Logger
}

// newMQTTClient is swapped in tests.
var newMQTTClient = mqtt.NewClient

// Client is an MQTT session to the hub.
// All methods are safe for concurrent use.
type Client struct {
	cfg      Config
	id       string
	broker   string
	username string

	mu    sync.Mutex
	mqtt  mqtt.Client
	state State

	lost chan error
}

// New creates a Client for the given configuration. The session is not
// connected until Connect is called.
func New(cfg Config) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("transport: Host is required")
	}
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("transport: DeviceID is required")
	}
	if cfg.Credential == nil {
		return nil, fmt.Errorf("transport: Credential is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = wire.DefaultAPIVersion
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ProtocolLogger == nil {
		cfg.ProtocolLogger = log.NoopLogger{}
	}

	tlsConf, err := cfg.Credential.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		id:       uuid.NewString(),
		broker:   fmt.Sprintf("ssl://%s:%d", cfg.Host, cfg.Port),
		username: wire.Username(cfg.Host, cfg.DeviceID, cfg.APIVersion),
		lost:     make(chan error, 4),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(cfg.DeviceID)
	opts.SetProtocolVersion(4) // MQTT 3.1.1
	opts.SetCleanSession(true)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetTLSConfig(tlsConf)
	opts.SetCredentialsProvider(c.credentials)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetDefaultPublishHandler(c.onUnroutedMessage)

	c.mqtt = newMQTTClient(opts)
	return c, nil
}

// ID returns the session's connection identifier.
func (c *Client) ID() string {
	return c.id
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the session is currently connected.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// Lost delivers the error for each unexpected connection loss.
func (c *Client) Lost() <-chan error {
	return c.lost
}

// Connect establishes the MQTT connection. It returns nil if the session
// is already connected. A failed attempt leaves the session disconnected
// and returns a ConnectError.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.setStateLocked(StateConnecting, "")
	c.mu.Unlock()

	c.logControl(log.DirectionOut, log.ControlMsgConnect, c.broker)
	c.cfg.Logger.Info("connecting",
		"broker", c.broker,
		"device_id", c.cfg.DeviceID,
		"auth", c.cfg.Credential.Method().String())

	token := c.mqtt.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.mu.Lock()
		c.setStateLocked(StateDisconnected, ctx.Err().Error())
		c.mu.Unlock()
		return &ConnectError{Broker: c.broker, Err: ctx.Err()}
	}

	if err := token.Error(); err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected, err.Error())
		c.mu.Unlock()
		c.logError(err, "connect")
		return &ConnectError{Broker: c.broker, Err: err}
	}

	c.mu.Lock()
	c.setStateLocked(StateConnected, "")
	c.mu.Unlock()
	c.logControl(log.DirectionIn, log.ControlMsgConnAck, c.broker)
	c.cfg.Logger.Info("connected", "broker", c.broker)
	return nil
}

// Subscribe registers handler for messages matching filter and waits for
// the broker's acknowledgment.
func (c *Client) Subscribe(ctx context.Context, filter string, qos byte, handler Handler) error {
	if !c.Connected() {
		return &SubscribeError{Filter: filter, Err: ErrNotConnected}
	}

	c.logControl(log.DirectionOut, log.ControlMsgSubscribe, filter)

	token := c.mqtt.Subscribe(filter, qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(Message{Topic: m.Topic(), Payload: m.Payload(), Qos: m.Qos()})
	})
	select {
	case <-token.Done():
	case <-ctx.Done():
		return &SubscribeError{Filter: filter, Err: ctx.Err()}
	}

	if err := token.Error(); err != nil {
		c.logError(err, "subscribe")
		return &SubscribeError{Filter: filter, Err: err}
	}

	c.logControl(log.DirectionIn, log.ControlMsgSubAck, filter)
	c.cfg.Logger.Debug("subscribed", "filter", filter, "qos", qos)
	return nil
}

// Publish sends a message and waits for the broker's acknowledgment
// according to the QoS level.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if !c.Connected() {
		return &PublishError{Topic: topic, Err: ErrNotConnected}
	}

	token := c.mqtt.Publish(topic, qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return &PublishError{Topic: topic, Err: ctx.Err()}
	}

	if err := token.Error(); err != nil {
		c.logError(err, "publish")
		return &PublishError{Topic: topic, Err: err}
	}

	c.cfg.Logger.Debug("published", "topic", topic, "bytes", len(payload))
	return nil
}

// Disconnect cleanly closes the connection. It is safe to call when the
// session is already disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateDisconnected, "client disconnect")
	c.mu.Unlock()

	c.logControl(log.DirectionOut, log.ControlMsgDisconnect, c.broker)
	c.mqtt.Disconnect(disconnectQuiesce)
	c.cfg.Logger.Info("disconnected", "broker", c.broker)
}

// credentials supplies the username and password for each connect attempt.
// SAS tokens expire, so the password is generated here rather than once at
// construction.
func (c *Client) credentials() (string, string) {
	password, err := c.cfg.Credential.Password(c.cfg.Host)
	if err != nil {
		c.cfg.Logger.Error("generating connection password", "error", err)
		return c.username, ""
	}
	return c.username, password
}

// onConnectionLost handles unexpected connection loss reported by the
// MQTT client.
func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.mu.Lock()
	c.setStateLocked(StateDisconnected, err.Error())
	c.mu.Unlock()

	c.cfg.Logger.Warn("connection lost", "broker", c.broker, "error", err)
	c.logControl(log.DirectionIn, log.ControlMsgConnLost, err.Error())

	select {
	case c.lost <- err:
	default:
	}
}

// onUnroutedMessage handles messages that arrive without a matching
// subscription handler, which indicates a routing gap.
func (c *Client) onUnroutedMessage(_ mqtt.Client, m mqtt.Message) {
	c.cfg.Logger.Debug("unrouted message", "topic", m.Topic(), "bytes", len(m.Payload()))
}

// setStateLocked transitions the session state. Caller holds c.mu.
func (c *Client) setStateLocked(next State, reason string) {
	if c.state == next {
		return
	}
	old := c.state
	c.state = next

	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		DeviceID:     c.cfg.DeviceID,
		HubHost:      c.cfg.Host,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

// logControl records a session control event.
func (c *Client) logControl(dir log.Direction, typ log.ControlMsgType, detail string) {
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		DeviceID:     c.cfg.DeviceID,
		HubHost:      c.cfg.Host,
		ControlMsg: &log.ControlMsgEvent{
			Type:   typ,
			Detail: detail,
		},
	})
}

// logError records a transport-level error event.
func (c *Client) logError(err error, context string) {
	c.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		DeviceID:     c.cfg.DeviceID,
		HubHost:      c.cfg.Host,
		Error: &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: err.Error(),
			Context: context,
		},
	})
}
