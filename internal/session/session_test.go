package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	texts  []string
	binary [][]byte
	err    error
}

func (f *fakeWriter) WriteText(s string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, s)
	return nil
}

func (f *fakeWriter) WriteBinary(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	cp := append([]byte(nil), b...)
	f.binary = append(f.binary, cp)
	return nil
}

func TestSessionLifecycleTransitions(t *testing.T) {
	w := &fakeWriter{}
	s := New("sess-1", "example.com:443", w)
	assert.Equal(t, StateInit, s.State())

	require.True(t, s.MarkConnecting())
	assert.Equal(t, StateConnecting, s.State())

	require.True(t, s.MarkConnected())
	assert.Equal(t, StateConnected, s.State())

	s.Close()
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, s.IsClosed())

	// Transitions after close are rejected.
	assert.False(t, s.MarkConnecting())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := New("sess-2", "example.com:80", &fakeWriter{})
	s.Close()
	s.Close()
	select {
	case <-s.Done():
	default:
		t.Fatal("Done() channel should be closed")
	}
}

func TestSessionSendFramesAndCounters(t *testing.T) {
	w := &fakeWriter{}
	s := New("sess-3", "example.com:443", w)

	require.NoError(t, s.SendConnect("example.com:443", []byte("hi")))
	require.NoError(t, s.SendConnected())
	require.NoError(t, s.SendData(context.Background(), []byte("hello")))
	require.NoError(t, s.SendDownstream(context.Background(), []byte("world!")))
	require.NoError(t, s.SendClose())

	assert.Equal(t, int64(5), s.BytesUp())
	assert.Equal(t, int64(6), s.BytesDown())
	require.Len(t, w.texts, 3)
	assert.Contains(t, w.texts[0], "CONNECT:")
	assert.Equal(t, "CONNECTED", w.texts[1])
	assert.Equal(t, "CLOSE", w.texts[2])
	require.Len(t, w.binary, 2)
}

func TestSessionBackpressureBlocksUntilDrained(t *testing.T) {
	w := &fakeWriter{}
	s := New("sess-4", "example.com:443", w)

	big := make([]byte, highWaterMark)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// First send fills pending only transiently (SendData decrements
	// pending once the write returns), so it should not block.
	require.NoError(t, s.SendData(context.Background(), big))

	// Forcibly hold pending above the high-water mark and confirm a
	// subsequent send respects context cancellation rather than hanging
	// forever.
	s.pending.Add(highWaterMark)
	err := s.SendData(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSessionDownstreamBackpressureBlocksUntilDrained(t *testing.T) {
	w := &fakeWriter{}
	s := New("sess-4b", "example.com:443", w)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	s.pending.Add(highWaterMark)
	err := s.SendDownstream(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWatchFiresOnIdleTimeout(t *testing.T) {
	s := New("sess-5", "example.com:443", &fakeWriter{})
	done := make(chan struct{})
	go s.Watch(40*time.Millisecond, func() { close(done) })

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("watchdog did not fire")
	}
}

func TestWatchStopsWhenSessionCloses(t *testing.T) {
	s := New("sess-6", "example.com:443", &fakeWriter{})
	fired := make(chan struct{})
	go s.Watch(200*time.Millisecond, func() { close(fired) })

	s.Close()
	select {
	case <-fired:
		t.Fatal("watchdog should not fire after explicit close")
	case <-time.After(60 * time.Millisecond):
	}
}
