// Package httpproxy parses inbound HTTP(S) proxy requests: CONNECT tunnels
// and absolute-URI/Host-header forward-proxy requests, rewritten into a
// relative-path request with proxy-only headers stripped. Grounded on
// original_source/client-gui-go/core/ech-workers.go's handleHTTP.
package httpproxy

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// maxForwardedBody caps the request body read for the forward-proxy path,
// per §4.5 step 4.
const maxForwardedBody = 10 * 1024 * 1024

// Mode distinguishes the CONNECT tunnel from the absolute-URI/Host-header
// forward-proxy rewrite.
type Mode int

const (
	ModeConnect Mode = iota
	ModeForward
)

// Request is a parsed inbound HTTP proxy request.
type Request struct {
	Mode Mode
	// Target is "host:port" for both modes: the CONNECT target, or the
	// forward-proxy destination derived from the absolute URI or Host
	// header.
	Target string
	// FirstPayload is empty for ModeConnect; for ModeForward it is the
	// fully rewritten request (relative path, filtered headers, body)
	// ready to hand the upstream verbatim.
	FirstPayload []byte
}

// ErrUnsupportedMethod is returned for methods other than CONNECT and the
// standard forward-proxy verbs; callers reply 405.
type ErrUnsupportedMethod struct{ Method string }

func (e *ErrUnsupportedMethod) Error() string { return "httpproxy: unsupported method " + e.Method }

var forwardMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"HEAD": true, "OPTIONS": true, "PATCH": true, "TRACE": true,
}

// Parse reads one HTTP request line and header block from r (a
// bufio.Reader primed with any already-consumed sniff byte) and returns a
// Request, or ErrUnsupportedMethod for a method this proxy doesn't handle.
func Parse(r *bufio.Reader) (*Request, error) {
	requestLine, err := r.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("httpproxy: read request line: %w", err)
	}
	parts := strings.Fields(requestLine)
	if len(parts) < 3 {
		return nil, fmt.Errorf("httpproxy: malformed request line %q", requestLine)
	}
	method, requestURL, version := parts[0], parts[1], parts[2]

	headers := map[string]string{}
	var headerLines []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("httpproxy: read headers: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		headerLines = append(headerLines, line)
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.ToLower(strings.TrimSpace(line[:idx]))
			headers[key] = strings.TrimSpace(line[idx+1:])
		}
	}

	if method == "CONNECT" {
		target := requestURL
		if !strings.Contains(target, ":") {
			target += ":443"
		}
		return &Request{Mode: ModeConnect, Target: target}, nil
	}

	if !forwardMethods[method] {
		return nil, &ErrUnsupportedMethod{Method: method}
	}

	target, path := deriveTargetAndPath(requestURL, headers["host"])
	if target == "" {
		return nil, fmt.Errorf("httpproxy: no target host (absolute URI or Host header required)")
	}
	if !strings.Contains(target, ":") {
		target += ":80"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\r\n", method, path, version)
	for _, line := range headerLines {
		key := strings.ToLower(strings.TrimSpace(strings.SplitN(line, ":", 2)[0]))
		if key == "proxy-connection" || key == "proxy-authorization" {
			continue
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")

	if raw, ok := headers["content-length"]; ok {
		if length, err := strconv.Atoi(raw); err == nil && length > 0 && length <= maxForwardedBody {
			body := make([]byte, length)
			if _, err := io.ReadFull(r, body); err == nil {
				b.Write(body)
			}
		}
	}

	return &Request{Mode: ModeForward, Target: target, FirstPayload: []byte(b.String())}, nil
}

// deriveTargetAndPath splits an absolute-URI request line ("http://host/path")
// into (host, path), or falls back to (hostHeader, requestURL) for a
// relative-path request line.
func deriveTargetAndPath(requestURL, hostHeader string) (target, path string) {
	if strings.HasPrefix(requestURL, "http://") {
		rest := strings.TrimPrefix(requestURL, "http://")
		if idx := strings.IndexByte(rest, '/'); idx > 0 {
			return rest[:idx], rest[idx:]
		}
		return rest, "/"
	}
	return hostHeader, requestURL
}
