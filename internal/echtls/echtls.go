// Package echtls builds *tls.Config values carrying an Encrypted Client
// Hello ConfigList and dials through them, optionally redirecting the
// hostname to an operator-supplied IP. Grounded on
// original_source/client-gui-go/core/ech-workers.go's
// buildTLSConfigWithECH/dialWebSocketWithECH and soha0219-x's
// dialSpecificWebSocket, but using crypto/tls's ECH fields directly instead
// of the teacher's reflection workaround (see design notes: reflection only
// existed because the source's TLS library exposed ECH by unstable name).
package echtls

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// DialTimeout is the timeout applied to the underlying TCP dial, per §4.7.
const DialTimeout = 10 * time.Second

// BuildConfig returns a TLS 1.3-minimum config with SNI serverName, the
// system root store, and echConfigList installed as the ECH ConfigList. The
// rejection-verify callback always returns a hard error: a rejected ECH
// negotiation is never silently accepted.
func BuildConfig(serverName string, echConfigList []byte) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("load system root store: %w", err)
	}
	if len(echConfigList) == 0 {
		return nil, errors.New("empty ECH config list")
	}
	return &tls.Config{
		MinVersion:                         tls.VersionTLS13,
		ServerName:                         serverName,
		RootCAs:                            roots,
		EncryptedClientHelloConfigList:      echConfigList,
		EncryptedClientHelloRejectionVerify: rejectECHFallback,
	}, nil
}

// BuildConfigWithoutECH returns a plain TLS 1.3-minimum config with no ECH.
// Used for the discouraged non-ECH fallback path (§4.7 step 2, §9 Open
// Questions).
func BuildConfigWithoutECH(serverName string) (*tls.Config, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("load system root store: %w", err)
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		ServerName: serverName,
		RootCAs:    roots,
	}, nil
}

func rejectECHFallback(tls.ConnectionState) error {
	return errors.New("ech: server rejected encrypted client hello")
}

// NetDialer returns a net.Dial-compatible function that connects to host:port
// unless ipOverride is set, in which case it connects to ipOverride:port
// instead (the hostname is still used for SNI/ECH — only the wire
// destination changes).
func NetDialer(ipOverride string) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		d := &net.Dialer{Timeout: DialTimeout}
		if ipOverride == "" {
			return d.DialContext(ctx, network, addr)
		}
		_, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		return d.DialContext(ctx, network, net.JoinHostPort(ipOverride, port))
	}
}

// IsECHError reports whether err's message names ECH, the trigger for the
// dialer's refresh-and-retry path (§4.7 step 6).
func IsECHError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "ech")
}
