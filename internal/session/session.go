package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// State is a session's position in the INIT -> CONNECTING -> CONNECTED ->
// CLOSED lifecycle (§5).
type State int32

const (
	StateInit State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// backpressure tuning (§5): poll with exponential backoff starting at 8ms,
// growing by 1.5x, capped at 200ms, once the pending-write high-water mark
// of 1MiB is crossed.
const (
	highWaterMark       = 1 << 20
	backpressureStart   = 8 * time.Millisecond
	backpressureCap     = 200 * time.Millisecond
	backpressureFactor  = 1.5
)

// Writer abstracts the underlying transport write the Session serializes
// onto; both the ingress and the egress use WSWriter, which wraps a
// *websocket.Conn. Binary writes carry TCP payload; text writes carry
// control frames.
type Writer interface {
	WriteText(s string) error
	WriteBinary(b []byte) error
}

// Session tracks one tunneled TCP connection's lifecycle, serializes writes
// onto a Writer, and counts bytes in both directions (§5). Both the
// ingress and egress side construct one Session per WebSocket connection.
type Session struct {
	ID     string
	Target string

	state atomic.Int32

	writeMu sync.Mutex
	writer  Writer

	pending atomic.Int64 // bytes queued but not yet confirmed written

	bytesUp   atomic.Int64
	bytesDown atomic.Int64

	lastActivity atomic.Int64 // unix nanos

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Session bound to writer, in StateInit.
func New(id, target string, writer Writer) *Session {
	s := &Session{
		ID:     id,
		Target: target,
		writer: writer,
		closed: make(chan struct{}),
	}
	s.state.Store(int32(StateInit))
	s.touch()
	return s
}

func (s *Session) touch() {
	s.lastActivity.Store(timeNow())
}

// State returns the session's current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// transition moves the session to next iff it isn't already CLOSED,
// returning false if the transition was rejected.
func (s *Session) transition(next State) bool {
	for {
		cur := State(s.state.Load())
		if cur == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(int32(cur), int32(next)) {
			return true
		}
	}
}

// MarkConnecting transitions INIT -> CONNECTING.
func (s *Session) MarkConnecting() bool { return s.transition(StateConnecting) }

// MarkConnected transitions CONNECTING -> CONNECTED.
func (s *Session) MarkConnected() bool { return s.transition(StateConnected) }

// Close transitions to CLOSED and is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.state.Store(int32(StateClosed))
		close(s.closed)
	})
}

// Done returns a channel closed when the session transitions to CLOSED.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	return s.State() == StateClosed
}

// SendConnect serializes and writes a CONNECT text frame.
func (s *Session) SendConnect(target string, firstPayload []byte) error {
	return s.writeText(EncodeConnect(target, firstPayload))
}

// SendConnected serializes and writes a CONNECTED text frame.
func (s *Session) SendConnected() error {
	return s.writeText("CONNECTED")
}

// SendClose serializes and writes a CLOSE text frame. It does not itself
// close the Session; callers close after the peer has been notified.
func (s *Session) SendClose() error {
	return s.writeText("CLOSE")
}

// SendError serializes and writes an ERROR text frame.
func (s *Session) SendError(message string) error {
	return s.writeText(EncodeError(message))
}

// SendPing/SendPong serialize and write PING/PONG text frames, used as an
// application-level keepalive distinct from the WebSocket control ping.
func (s *Session) SendPing() error { return s.writeText("PING") }
func (s *Session) SendPong() error { return s.writeText("PONG") }

func (s *Session) writeText(payload string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.touch()
	return s.writer.WriteText(payload)
}

// SendData writes a binary DATA frame carrying upstream (client->target)
// bytes, applying backpressure if the pending high-water mark is exceeded.
func (s *Session) SendData(ctx context.Context, payload []byte) error {
	if err := s.awaitBackpressure(ctx); err != nil {
		return err
	}
	s.pending.Add(int64(len(payload)))
	defer s.pending.Add(-int64(len(payload)))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.touch()
	s.bytesUp.Add(int64(len(payload)))
	return s.writer.WriteBinary(payload)
}

// SendDownstream writes bytes read from the target back toward the client,
// counting them against BytesDown and applying the same backpressure gate
// as SendData (§4.2's egress->WS pump must honor backpressure exactly like
// the ingress->WS direction).
func (s *Session) SendDownstream(ctx context.Context, payload []byte) error {
	if err := s.awaitBackpressure(ctx); err != nil {
		return err
	}
	s.pending.Add(int64(len(payload)))
	defer s.pending.Add(-int64(len(payload)))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.touch()
	s.bytesDown.Add(int64(len(payload)))
	return s.writer.WriteBinary(payload)
}

// awaitBackpressure blocks with exponential backoff while Pending() exceeds
// the high-water mark, returning ctx.Err() if ctx is canceled first.
func (s *Session) awaitBackpressure(ctx context.Context) error {
	delay := backpressureStart
	for s.pending.Load() >= highWaterMark {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.closed:
			return ErrSessionClosed
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * backpressureFactor)
		if delay > backpressureCap {
			delay = backpressureCap
		}
	}
	return nil
}

// BytesUp and BytesDown report cumulative byte counters (§5).
func (s *Session) BytesUp() int64   { return s.bytesUp.Load() }
func (s *Session) BytesDown() int64 { return s.bytesDown.Load() }

// Touch refreshes the idle-watchdog clock without performing a write.
// Used by callers that write to the session's upstream peer directly
// (bypassing the Writer) but still want that traffic to count as
// activity — e.g. the egress's WS-to-upstream pump, which writes straight
// to the dialed net.Conn rather than through the Session's WS Writer.
func (s *Session) Touch() { s.touch() }

// LastActivity returns the time of the most recent write through this
// Session, used by the idle watchdog.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// timeNow is time.Now().UnixNano() indirected so tests can't accidentally
// depend on wall-clock granularity across fast assertions.
func timeNow() int64 { return time.Now().UnixNano() }
