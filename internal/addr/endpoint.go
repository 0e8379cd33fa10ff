// Package addr normalizes the handful of address spellings the tunnel
// accepts: "host:port", "[v6]:port", and the path-segment alias
// "host-port". Grounded on the teacher's core.parseServerAddr and the
// SOCKS5/HTTP target-string assembly in core/core.go and
// original_source/client-gui-go/core/ech-workers.go.
package addr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is a normalized (host, port) pair. Host never carries brackets;
// String re-adds them for IPv6 literals.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	if strings.Contains(e.Host, ":") {
		return fmt.Sprintf("[%s]:%d", e.Host, e.Port)
	}
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// IsIPLiteral reports whether Host parses as an IPv4 or IPv6 literal.
func (e Endpoint) IsIPLiteral() bool { return net.ParseIP(e.Host) != nil }

// ParseEndpoint parses "host:port" or "[v6]:port" into an Endpoint. Port 0
// and ports above 65535 are rejected, matching the boundary behavior the
// spec calls out explicitly.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return newEndpoint(host, portStr)
}

// ParsePathSegment parses the "host-port" alias used in URL path segments
// (the egress's path-derived fallback override). The last hyphen is taken
// as the host/port separator so IPv6 literals still work when bracketed
// with escaped colons turned into hyphens upstream (i.e. the hyphen form is
// only ever applied to host:port style addresses, never bracketed IPv6).
func ParsePathSegment(s string) (Endpoint, error) {
	idx := strings.LastIndex(s, "-")
	if idx < 0 {
		return Endpoint{}, fmt.Errorf("invalid host-port alias %q", s)
	}
	return newEndpoint(s[:idx], s[idx+1:])
}

func newEndpoint(host, portStr string) (Endpoint, error) {
	host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	if port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("port %d out of range", port)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("empty host")
	}
	return Endpoint{Host: host, Port: port}, nil
}

// WithDefaultPort parses s as host[:port]; if no port is present, def is
// used. This covers the "Host header with default port 80" and
// "fallback with no port inherits target port" cases.
func WithDefaultPort(s string, def int) (Endpoint, error) {
	if host, portStr, err := net.SplitHostPort(s); err == nil {
		return newEndpoint(host, portStr)
	}
	host := strings.TrimPrefix(strings.TrimSuffix(s, "]"), "[")
	if host == "" {
		return Endpoint{}, fmt.Errorf("empty host")
	}
	return Endpoint{Host: host, Port: def}, nil
}

// Fallback is one entry of a FallbackList: a host with an optional port. A
// nil Port means "inherit the target's port" at attempt-list build time.
type Fallback struct {
	Host string
	Port *int
}

// FallbackList is an ordered sequence of fallback endpoints, attempted in
// order after the primary target fails with a transient error.
type FallbackList []Fallback

// ParseFallbackList parses a comma-separated list such as
// "1.2.3.4:21415,proxy.example.net" (the FALLBACK_IPS env var / path-derived
// override format, with '-' already normalized to ':' by the caller for the
// path form).
func ParseFallbackList(s string) FallbackList {
	var out FallbackList
	for _, raw := range strings.Split(s, ",") {
		item := strings.TrimSpace(raw)
		if item == "" {
			continue
		}
		if host, portStr, err := net.SplitHostPort(item); err == nil {
			if p, err := strconv.Atoi(portStr); err == nil {
				port := p
				out = append(out, Fallback{Host: strings.TrimPrefix(strings.TrimSuffix(host, "]"), "["), Port: &port})
				continue
			}
		}
		out = append(out, Fallback{Host: strings.TrimPrefix(strings.TrimSuffix(item, "]"), "[")})
	}
	return out
}

// ParsePathFallbackList parses the egress's path-derived override: the last
// URL path segment, comma-separated, with '-' replaced by ':' per item.
func ParsePathFallbackList(pathSegment string) FallbackList {
	normalized := strings.ReplaceAll(pathSegment, "-", ":")
	return ParseFallbackList(normalized)
}

// Resolve turns a Fallback into a concrete Endpoint, inheriting targetPort
// when the fallback carries no port of its own.
func (f Fallback) Resolve(targetPort int) Endpoint {
	host := strings.TrimPrefix(strings.TrimSuffix(f.Host, "]"), "[")
	if f.Port != nil {
		return Endpoint{Host: host, Port: *f.Port}
	}
	return Endpoint{Host: host, Port: targetPort}
}
