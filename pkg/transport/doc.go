// Package transport provides the MQTT session to the hub.
//
// The Client wraps an Eclipse Paho MQTT client with the connection
// parameters the hub requires: TLS on port 8883, MQTT 3.1.1 with a clean
// session, the device ID as client ID, and the hub username convention
// carrying the API version. Credentials are supplied per connect attempt,
// so SAS tokens are always fresh.
//
// The Client never reconnects on its own. When the connection drops, the
// session moves to disconnected, the loss is reported on Lost(), and the
// caller decides whether and when to connect again. Subscriptions do not
// survive a reconnect (clean session); callers re-subscribe after Connect.
//
// Session is the interface consumed by the issuance and harness layers,
// letting tests substitute an in-process hub.
package transport
