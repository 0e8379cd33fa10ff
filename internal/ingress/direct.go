package ingress

import (
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/addr"
	"github.com/soha0219/ech-ws-tunnel/internal/tunnelerr"
)

const directDialTimeout = 10 * time.Second

// handleDirectConnection bypasses the tunnel entirely: dial the target
// plainly, reply success, replay any precomputed first frame, then copy
// bytes in both directions until either side closes. Grounded on
// handleDirectConnection in original_source.
func (c *Client) handleDirectConnection(conn net.Conn, target string, m mode, firstFrame string, logger *zap.Logger) error {
	if !c.isRunning() {
		return fmt.Errorf("ingress: stopping")
	}

	target = withDefaultPortForMode(target, m)

	targetConn, err := net.DialTimeout("tcp", target, directDialTimeout)
	if err != nil {
		sendErrorResponse(conn, m)
		return &tunnelerr.DialError{Target: target, Err: err}
	}
	defer targetConn.Close()

	if err := sendSuccessResponse(conn, m); err != nil {
		return fmt.Errorf("send success response: %w", err)
	}

	if firstFrame != "" {
		if _, err := targetConn.Write([]byte(firstFrame)); err != nil {
			return &tunnelerr.RelayError{Direction: "client->target", Err: err}
		}
	}

	done := make(chan struct{}, 2)
	go copyDirect(targetConn, conn, "client->target", done, logger)
	go copyDirect(conn, targetConn, "target->client", done, logger)
	<-done
	return nil
}

// withDefaultPortForMode adds the mode-appropriate default port (443 for
// CONNECT, 80 for forward-proxy/SOCKS5) when target carries none.
func withDefaultPortForMode(target string, m mode) string {
	def := 80
	if m == modeHTTPConnect {
		def = 443
	}
	ep, err := addr.WithDefaultPort(target, def)
	if err != nil {
		return target
	}
	return ep.String()
}

// copyDirect copies src into dst and signals done, swallowing normal-close
// errors per §4.9 and logging anything else.
func copyDirect(dst io.Writer, src io.Reader, direction string, done chan<- struct{}, logger *zap.Logger) {
	defer func() { done <- struct{}{} }()
	_, err := io.Copy(dst, src)
	if err != nil && !tunnelerr.IsNormalClose(err) {
		logger.Warn("direct relay failed", zap.String("direction", direction), zap.Error(err))
	}
}
