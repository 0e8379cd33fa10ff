// Package session implements the framed control protocol that rides on
// top of one WebSocket per tunneled TCP connection: CONNECT, CONNECTED,
// DATA, CLOSE, ERROR, PING, PONG, the state machine, the per-session write
// queue, the read-timeout watchdog, and the backpressure poller.
//
// Grounded on the CONNECT/CONNECTED/CLOSE wire format in
// original_source/client-gui-go/core/ech-workers.go's handleTunnel and
// tdxf1-ech-tunnel/ech-tunnel.go's handleWebSocket, generalized into one
// package both the ingress and egress sides import instead of duplicating
// the frame grammar on both ends of the wire.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a parsed frame's type.
type Kind int

const (
	KindConnect Kind = iota
	KindConnected
	KindData
	KindBinary
	KindClose
	KindError
	KindPing
	KindPong
	KindUnknown
)

// Frame is a parsed text or binary frame. Payload holds the raw bytes for
// KindData/KindBinary; ErrorMessage is populated only for KindError, and
// Target and FirstPayload only for KindConnect.
type Frame struct {
	Kind          Kind
	Target        string
	FirstPayload  []byte
	Payload       []byte
	ErrorMessage  string
}

// EncodeConnect builds the "CONNECT:<target>|<base64 first-payload>" text
// frame. The payload is base64-standard-encoded so arbitrary binary data
// (a TLS ClientHello, an HTTP body) survives the text frame untouched.
func EncodeConnect(target string, firstPayload []byte) string {
	encoded := ""
	if len(firstPayload) > 0 {
		encoded = base64.StdEncoding.EncodeToString(firstPayload)
	}
	return fmt.Sprintf("CONNECT:%s|%s", target, encoded)
}

// EncodeData builds a "DATA:<text>" frame. Binary frames should be
// preferred (§4.1); this exists for the text-DATA backward-compatibility
// path.
func EncodeData(payload []byte) string {
	return "DATA:" + string(payload)
}

// EncodeError builds an "ERROR:<message>" frame.
func EncodeError(message string) string {
	return "ERROR:" + message
}

const (
	connectPrefix = "CONNECT:"
	dataPrefix    = "DATA:"
	errorPrefix   = "ERROR:"
)

// ParseText parses a text-frame payload into a Frame. Unrecognized text
// yields KindUnknown; the egress answers it with an ERROR frame before
// CONNECT and ignores it once the session is connected.
func ParseText(s string) Frame {
	switch {
	case s == "CONNECTED":
		return Frame{Kind: KindConnected}
	case s == "CLOSE":
		return Frame{Kind: KindClose}
	case s == "PING":
		return Frame{Kind: KindPing}
	case s == "PONG":
		return Frame{Kind: KindPong}
	case strings.HasPrefix(s, connectPrefix):
		return parseConnect(s[len(connectPrefix):])
	case strings.HasPrefix(s, dataPrefix):
		return Frame{Kind: KindData, Payload: []byte(s[len(dataPrefix):])}
	case strings.HasPrefix(s, errorPrefix):
		return Frame{Kind: KindError, ErrorMessage: s[len(errorPrefix):]}
	default:
		return Frame{Kind: KindUnknown}
	}
}

// parseConnect splits "<target>|<base64 payload>". Per the boundary
// behavior in the spec, a missing '|' means the whole suffix is the target
// and the first-payload is empty; an empty payload field leaves the
// first-payload nil, which is a no-op, not an error.
func parseConnect(rest string) Frame {
	target := rest
	var firstPayload []byte
	if idx := strings.IndexByte(rest, '|'); idx >= 0 {
		target = rest[:idx]
		encoded := rest[idx+1:]
		if encoded != "" {
			decoded, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				// Fall back to treating the raw suffix as a literal payload
				// for compatibility with peers that don't base64-encode
				// (e.g. the teacher's plain-text CONNECT framing).
				decoded = []byte(encoded)
			}
			firstPayload = decoded
		}
	}
	return Frame{Kind: KindConnect, Target: target, FirstPayload: firstPayload}
}

// ParseBinary wraps a raw binary frame's bytes.
func ParseBinary(b []byte) Frame {
	return Frame{Kind: KindBinary, Payload: b}
}

// ErrUnexpectedFrame describes a frame that arrives out of order for the
// current State. No code path in this module returns it.
var ErrUnexpectedFrame = errors.New("unexpected frame for current state")
