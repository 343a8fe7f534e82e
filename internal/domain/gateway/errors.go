package gateway

import (
	"crypto/x509"
	"errors"
	"net"
)

// ProviderError carries a gateway-level failure.
type ProviderError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	// Systemic marks provider-wide faults (TLS/certificate, DNS) that
	// justify suppressing all queries for a while.
	Systemic bool `json:"-"`
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsSystemic reports whether err signals a provider-wide fault rather than a
// per-transaction one.
func IsSystemic(err error) bool {
	var provErr *ProviderError
	if errors.As(err, &provErr) && provErr.Systemic {
		return true
	}

	var certErr *x509.UnknownAuthorityError
	if errors.As(err, &certErr) {
		return true
	}
	var hostErr *x509.HostnameError
	if errors.As(err, &hostErr) {
		return true
	}
	var certInvalidErr *x509.CertificateInvalidError
	if errors.As(err, &certInvalidErr) {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
