package credential

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

// ErrInvalidPEM indicates data that does not contain a CERTIFICATE block.
var ErrInvalidPEM = errors.New("credential: invalid PEM data")

// DecodeCertPEM decodes a PEM-encoded X.509 certificate, as returned in
// the body of a successful issuance result.
func DecodeCertPEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, ErrInvalidPEM
	}
	return x509.ParseCertificate(block.Bytes)
}

// ReadCertFile reads a certificate from a PEM file.
func ReadCertFile(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeCertPEM(data)
}

// WriteCertFile writes issued certificate material to a PEM file.
func WriteCertFile(path string, material []byte) error {
	return os.WriteFile(path, material, 0644)
}
