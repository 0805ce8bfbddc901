// Package certs inspects X.509 certificates served by TLS endpoints or held
// as PEM material in a key store.
package certs

import (
	"context"
	"crypto/sha1" //nolint:gosec // fingerprint display only
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"time"

	qerrors "github.com/systmms/quickmanage/internal/errors"
)

// DefaultTimeout bounds a handshake when the caller gives none
const DefaultTimeout = 3 * time.Second

const defaultPort = 443

var targetPattern = regexp.MustCompile(`^([\da-zA-Z.\-]+)(?::(\d+))?$`)

// Target is a TLS endpoint
type Target struct {
	Host string
	Port int
}

func (t Target) String() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// ParseTarget parses "host[:port]", defaulting the port to 443
func ParseTarget(text string) (Target, error) {
	m := targetPattern.FindStringSubmatch(text)
	if m == nil {
		return Target{}, qerrors.ValidationError{Field: "target", Value: text, Message: "expected host[:port]"}
	}
	port := defaultPort
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil || n < 1 || n > 65535 {
			return Target{}, qerrors.ValidationError{Field: "target", Value: text, Message: "port out of range"}
		}
		port = n
	}
	return Target{Host: m[1], Port: port}, nil
}

// Info summarizes one certificate
type Info struct {
	Subject     string    `json:"subject"`
	Issuer      string    `json:"issuer"`
	Serial      string    `json:"serial"`
	NotBefore   time.Time `json:"not_before"`
	NotAfter    time.Time `json:"not_after"`
	Fingerprint string    `json:"fingerprint"`
	Signature   string    `json:"signature"`
	DNSNames    []string  `json:"dns_names,omitempty"`
}

// FromX509 extracts the fields quick reports from cert
func FromX509(cert *x509.Certificate) Info {
	sum := sha1.Sum(cert.Raw) //nolint:gosec
	return Info{
		Subject:     cert.Subject.String(),
		Issuer:      cert.Issuer.String(),
		Serial:      cert.SerialNumber.String(),
		NotBefore:   cert.NotBefore,
		NotAfter:    cert.NotAfter,
		Fingerprint: hex.EncodeToString(sum[:]),
		Signature:   base64.StdEncoding.EncodeToString(cert.Signature),
		DNSNames:    cert.DNSNames,
	}
}

// DaysRemaining returns whole days until expiry, negative once expired
func (i Info) DaysRemaining(now time.Time) int {
	return int(math.Floor(i.NotAfter.Sub(now).Hours() / 24))
}

// Expired reports whether the certificate is past its NotAfter at now
func (i Info) Expired(now time.Time) bool {
	return now.After(i.NotAfter)
}

// FetchInfo connects to target and reports the leaf certificate it serves.
// The chain is not verified; the point is to see what is deployed.
func FetchInfo(ctx context.Context, target Target, timeout time.Duration) (Info, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config: &tls.Config{
			ServerName:         target.Host,
			InsecureSkipVerify: true, //nolint:gosec // inspection, not trust
		},
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return Info{}, qerrors.ConnectivityError{Op: "tls handshake", Target: target.String(), Err: err}
	}
	defer conn.Close()

	state := conn.(*tls.Conn).ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return Info{}, qerrors.ConnectivityError{Op: "tls handshake", Target: target.String(), Err: fmt.Errorf("no certificate presented")}
	}
	return FromX509(state.PeerCertificates[0]), nil
}

// InfoFromPEM reports the first certificate in data. Private key blocks and
// other PEM types before it are skipped.
func InfoFromPEM(data []byte) (Info, error) {
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return Info{}, qerrors.ValidationError{Field: "certificate", Message: "no PEM certificate block found"}
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return Info{}, qerrors.ValidationError{Field: "certificate", Message: err.Error()}
		}
		return FromX509(cert), nil
	}
}

// Status grades remaining validity the way the CLI colors it
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

// Grade returns fail at one day or less remaining and warning at twenty
func (i Info) Grade(now time.Time) Status {
	days := i.DaysRemaining(now)
	switch {
	case days <= 1:
		return StatusFail
	case days <= 20:
		return StatusWarning
	default:
		return StatusOK
	}
}
