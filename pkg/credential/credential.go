package credential

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"
)

// Credential construction errors.
var (
	ErrInvalidCACert = errors.New("credential: CA certificate contains no usable PEM data")
	ErrMissingFile   = errors.New("credential: required file path not set")
)

// Method identifies the active authentication form.
type Method uint8

const (
	// MethodX509 authenticates with a client certificate during the TLS
	// handshake; no MQTT password is sent.
	MethodX509 Method = iota

	// MethodSAS authenticates with a shared-access-signature token sent
	// as the MQTT password over a server-authenticated TLS session.
	MethodSAS
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case MethodX509:
		return "x509"
	case MethodSAS:
		return "sas"
	default:
		return "unknown"
	}
}

// Credential is one authentication form for a hub session. TLSConfig is
// evaluated once per connect; Password is evaluated per connect so that
// time-bounded tokens stay fresh across reconnects.
type Credential interface {
	// Method identifies the credential form.
	Method() Method

	// TLSConfig builds the TLS client configuration for the session.
	TLSConfig() (*tls.Config, error)

	// Password returns the MQTT password for a connect attempt, or ""
	// when the form authenticates during the handshake instead.
	Password(resourceURI string) (string, error)
}

// X509 authenticates with a client certificate and private key pair,
// verified against the hub's CA chain.
type X509 struct {
	// CACertFile is the PEM file holding the trusted hub CA chain.
	// Empty means the system root pool.
	CACertFile string

	// CertFile and KeyFile are the PEM files for the device identity.
	CertFile string
	KeyFile  string
}

// Method implements Credential.
func (c *X509) Method() Method { return MethodX509 }

// TLSConfig loads the client pair and CA chain.
func (c *X509) TLSConfig() (*tls.Config, error) {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, fmt.Errorf("%w: device cert and key", ErrMissingFile)
	}
	pair, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("credential: loading device cert pair: %w", err)
	}
	roots, err := rootPool(c.CACertFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{pair},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Password implements Credential; X.509 sessions carry no password.
func (c *X509) Password(string) (string, error) { return "", nil }

// SAS authenticates with a generated shared-access-signature token.
type SAS struct {
	// CACertFile is the PEM file holding the trusted hub CA chain.
	// Empty means the system root pool.
	CACertFile string

	// Key is the base64-encoded policy key the token is signed with.
	Key string

	// PolicyName names the hub access policy; empty selects
	// device-level authentication (no skn property in the token).
	PolicyName string

	// TTL bounds token validity from the moment of the connect attempt.
	// Zero means DefaultTTL.
	TTL time.Duration
}

// Method implements Credential.
func (c *SAS) Method() Method { return MethodSAS }

// TLSConfig sets up a server-authenticated session; the client proves
// itself with the token, not a certificate.
func (c *SAS) TLSConfig() (*tls.Config, error) {
	roots, err := rootPool(c.CACertFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		RootCAs:    roots,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Password generates a fresh token scoped to the resource URI.
func (c *SAS) Password(resourceURI string) (string, error) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return Token(resourceURI, c.Key, c.PolicyName, time.Now().Add(ttl))
}

// rootPool loads a CA pool from the given PEM file, or returns nil for
// the system pool when the path is empty.
func rootPool(caCertFile string) (*x509.CertPool, error) {
	if caCertFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(caCertFile)
	if err != nil {
		return nil, fmt.Errorf("credential: reading CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCACert, caCertFile)
	}
	return pool, nil
}

// Compile-time interface satisfaction checks.
var (
	_ Credential = (*X509)(nil)
	_ Credential = (*SAS)(nil)
)
