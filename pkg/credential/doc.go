// Package credential provides the two authentication forms a hub session
// accepts: an X.509 client certificate with its private key, or a
// time-bounded shared-access-signature (SAS) token derived from a hub
// policy key. Exactly one form is active per session; both render down
// to a TLS configuration plus an optional MQTT password, which is all
// the transport needs.
package credential
