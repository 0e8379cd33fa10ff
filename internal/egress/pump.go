package egress

import (
	"context"
	"net"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/addr"
	"github.com/soha0219/ech-ws-tunnel/internal/config"
	"github.com/soha0219/ech-ws-tunnel/internal/session"
	"github.com/soha0219/ech-ws-tunnel/internal/tunnelerr"
)

const pumpReadBufferSize = 32 * 1024

// handleConn drives one WebSocket connection end to end: wait for the
// CONNECT frame, dial the target (with fallback cascade), relay
// bidirectionally until either side closes. Grounded on
// tdxf1-ech-tunnel/ech-tunnel.go's handleWebSocket and
// original_source's handleTunnel server-side half.
func (s *Server) handleConn(ctx context.Context, wsConn *websocket.Conn, cfg *config.Egress) {
	defer s.activeSessions.Add(-1)
	defer wsConn.Close()

	writer := &session.WSWriter{Conn: wsConn}
	sess := session.New(s.nextSessionID(), "", writer)
	logger := s.Logger.With(zap.String("session_id", sess.ID))

	wsConn.SetPingHandler(func(m string) error {
		return wsConn.WriteMessage(websocket.PongMessage, []byte(m))
	})

	_, raw, err := wsConn.ReadMessage()
	if err != nil {
		logger.Debug("connection closed before CONNECT", zap.Error(err))
		return
	}
	frame := session.ParseText(string(raw))
	if frame.Kind != session.KindConnect {
		sess.SendError("protocol: expected CONNECT")
		return
	}

	target, err := addr.ParseEndpoint(frame.Target)
	if err != nil {
		sess.SendError("protocol: invalid target")
		return
	}
	if !hostAllowed(cfg.AllowedHosts, target.Host) {
		logger.Warn("host rejected by allowlist", zap.String("target", target.String()))
		sess.SendError("policy: host not allowed")
		return
	}

	sess.MarkConnecting()
	upstream, err := dialUpstream(target, cfg.FallbackIPs, time.Duration(cfg.ConnectTimeoutMs)*time.Millisecond)
	if err != nil {
		logger.Warn("dial failed", zap.String("target", target.String()), zap.Error(err))
		sess.SendError(err.Error())
		return
	}
	defer upstream.Close()
	s.trackConn(upstream)
	defer s.untrackConn(upstream)

	if len(frame.FirstPayload) > 0 {
		if _, err := upstream.Write(frame.FirstPayload); err != nil {
			logger.Warn("write first payload failed", zap.Error(err))
			sess.SendError("relay: write failed")
			return
		}
	}

	sess.MarkConnected()
	if err := sess.SendConnected(); err != nil {
		return
	}
	logger.Info("session established", zap.String("target", target.String()))

	readTimeout := time.Duration(cfg.ReadTimeoutMs) * time.Millisecond
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go sess.Watch(readTimeout, func() {
		logger.Info("idle timeout, closing session")
		upstream.Close()
		wsConn.Close()
	})
	go func() {
		<-watchCtx.Done()
		sess.Close()
	}()

	done := make(chan struct{}, 2)
	go pumpUpstreamToWS(ctx, sess, upstream, done, logger)
	go pumpWSToUpstream(sess, wsConn, upstream, done, logger)
	<-done

	sess.Close()
	s.bytesUp.Add(sess.BytesUp())
	s.bytesDown.Add(sess.BytesDown())
	logger.Info("session closed", zap.Int64("bytes_up", sess.BytesUp()), zap.Int64("bytes_down", sess.BytesDown()))
}

func hostAllowed(allowlist []string, host string) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, h := range allowlist {
		if h == host {
			return true
		}
	}
	return false
}

// pumpUpstreamToWS reads the dialed TCP connection and forwards each chunk
// as a binary WS frame, honoring the same backpressure gate as the
// ingress->WS direction, per §4.2's egress->WS pump.
func pumpUpstreamToWS(ctx context.Context, sess *session.Session, upstream net.Conn, done chan<- struct{}, logger *zap.Logger) {
	defer func() { done <- struct{}{} }()
	buf := make([]byte, pumpReadBufferSize)
	for {
		n, err := upstream.Read(buf)
		if n > 0 {
			if werr := sess.SendDownstream(ctx, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if !tunnelerr.IsNormalClose(err) {
				logger.Warn("upstream read failed", zap.Error(err))
			}
			sess.SendClose()
			return
		}
	}
}

// pumpWSToUpstream reads WS frames and dispatches DATA/binary frames to
// the upstream writer, terminating on a text CLOSE frame.
func pumpWSToUpstream(sess *session.Session, wsConn *websocket.Conn, upstream net.Conn, done chan<- struct{}, logger *zap.Logger) {
	defer func() { done <- struct{}{} }()
	for {
		typ, raw, err := wsConn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("ws read ended", zap.Error(err))
			}
			return
		}
		sess.Touch()

		var frame session.Frame
		if typ == websocket.BinaryMessage {
			frame = session.ParseBinary(raw)
		} else {
			frame = session.ParseText(string(raw))
		}

		switch frame.Kind {
		case session.KindBinary:
			if _, err := upstream.Write(frame.Payload); err != nil {
				if !tunnelerr.IsNormalClose(err) {
					logger.Warn("upstream write failed", zap.Error(err))
				}
				return
			}
		case session.KindData:
			if _, err := upstream.Write(frame.Payload); err != nil {
				return
			}
		case session.KindClose:
			return
		case session.KindPing:
			sess.SendPong()
		case session.KindPong:
			// application-level heartbeat ack, no action needed.
		default:
			logger.Debug("ignoring unexpected frame", zap.Int("kind", int(frame.Kind)))
		}
	}
}
