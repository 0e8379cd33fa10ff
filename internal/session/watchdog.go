package session

import (
	"errors"
	"time"
)

// ErrSessionClosed is returned by Session operations attempted after Close.
var ErrSessionClosed = errors.New("session: closed")

// ErrIdleTimeout names the condition Watch detects: idleTimeout elapsed
// with no activity on the session (§4.1's read timeout). Watch does not
// return it; it reports a timeout by calling its onTimeout callback.
var ErrIdleTimeout = errors.New("session: idle timeout")

// Watch runs until the session closes or idleTimeout elapses with no call
// to touch() (any Send*/SendData/SendDownstream call refreshes it). On
// idle timeout it invokes onTimeout once and returns. Callers run Watch in
// its own goroutine and select on Session.Done() to know when to stop
// relying on it.
func (s *Session) Watch(idleTimeout time.Duration, onTimeout func()) {
	ticker := time.NewTicker(idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			if time.Since(s.LastActivity()) >= idleTimeout {
				onTimeout()
				return
			}
		}
	}
}
