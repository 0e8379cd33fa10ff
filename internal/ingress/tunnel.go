package ingress

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/session"
)

const (
	earlyByteWindow  = 100 * time.Millisecond
	keepaliveEvery   = 10 * time.Second
	deadlineRenewal  = 5 * time.Minute
	tunnelReadBuffer = 8192
)

// handleTunnel implements §4.10: dial the egress over ECH+WS, send CONNECT,
// wait for CONNECTED, reply to the client, then relay bidirectionally.
// Grounded on handleTunnel in original_source.
func (c *Client) handleTunnel(ctx context.Context, conn net.Conn, target string, m mode, firstFrame string, logger *zap.Logger) error {
	if !c.isRunning() {
		return fmt.Errorf("ingress: stopping")
	}

	wsConn, err := c.dialWebSocket(ctx)
	if err != nil {
		sendErrorResponse(conn, m)
		return fmt.Errorf("tunnel dial: %w", err)
	}
	defer wsConn.Close()

	sess := session.New(fmt.Sprintf("ing-%d", c.nextConnID()), target, &session.WSWriter{Conn: wsConn})

	conn.SetDeadline(time.Now().Add(deadlineRenewal))
	stopKeepalive := make(chan struct{})
	go tunnelKeepalive(conn, wsConn, stopKeepalive)
	defer close(stopKeepalive)
	conn.SetDeadline(time.Time{})

	if firstFrame == "" && m == modeSOCKS5 {
		firstFrame = readEarlyBytes(conn)
	}

	sess.MarkConnecting()
	if err := sess.SendConnect(target, []byte(firstFrame)); err != nil {
		sendErrorResponse(conn, m)
		return fmt.Errorf("send connect: %w", err)
	}

	_, raw, err := wsConn.ReadMessage()
	if err != nil {
		sendErrorResponse(conn, m)
		return fmt.Errorf("read connect response: %w", err)
	}
	response := session.ParseText(string(raw))
	switch response.Kind {
	case session.KindConnected:
		sess.MarkConnected()
	case session.KindError:
		sendErrorResponse(conn, m)
		return fmt.Errorf("egress error: %s", response.ErrorMessage)
	default:
		sendErrorResponse(conn, m)
		return fmt.Errorf("unexpected response kind %d", response.Kind)
	}

	if err := sendSuccessResponse(conn, m); err != nil {
		return fmt.Errorf("send success response: %w", err)
	}
	logger.Info("tunnel established", zap.String("target", target))

	done := make(chan struct{}, 2)
	go tunnelClientToWS(ctx, sess, conn, done)
	go tunnelWSToClient(wsConn, conn, done)
	<-done

	sess.SendClose()
	sess.Close()
	logger.Info("tunnel closed", zap.String("target", target),
		zap.Int64("bytes_up", sess.BytesUp()), zap.Int64("bytes_down", sess.BytesDown()))
	return nil
}

// tunnelKeepalive sends a WebSocket-protocol ping every 10s and renews
// conn's deadline by 5 minutes on each tick, per §4.10 step 4.
func tunnelKeepalive(conn net.Conn, wsConn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(keepaliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			conn.SetDeadline(time.Now().Add(deadlineRenewal))
			wsConn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}

// readEarlyBytes reads up to 100ms of early client bytes (a TLS ClientHello
// or HTTP request) to bundle into the CONNECT frame, per §4.10 step 1.
func readEarlyBytes(conn net.Conn) string {
	conn.SetReadDeadline(time.Now().Add(earlyByteWindow))
	buf := make([]byte, tunnelReadBuffer)
	n, _ := conn.Read(buf)
	conn.SetReadDeadline(time.Time{})
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

// tunnelClientToWS reads local client bytes and forwards them as binary WS
// frames through the session, honoring backpressure.
func tunnelClientToWS(ctx context.Context, sess *session.Session, conn net.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, tunnelReadBuffer)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if werr := sess.SendData(ctx, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// tunnelWSToClient reads WS frames and writes binary payloads to the local
// client verbatim, terminating on a text CLOSE frame, per §4.10 step 5.
func tunnelWSToClient(wsConn *websocket.Conn, conn net.Conn, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		typ, msg, err := wsConn.ReadMessage()
		if err != nil {
			return
		}
		if typ == websocket.TextMessage {
			frame := session.ParseText(string(msg))
			if frame.Kind == session.KindClose {
				return
			}
			continue
		}
		if _, err := conn.Write(msg); err != nil {
			return
		}
	}
}
