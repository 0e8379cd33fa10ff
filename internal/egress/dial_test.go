package egress

import (
	"net"
	"testing"
	"time"

	"github.com/soha0219/ech-ws-tunnel/internal/addr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAttemptListIPLiteralSkipsFallbacks(t *testing.T) {
	target := addr.Endpoint{Host: "1.2.3.4", Port: 443}
	fallbacks := addr.ParseFallbackList("5.6.7.8:443")
	attempts := buildAttemptList(target, fallbacks)
	require.Len(t, attempts, 1)
	assert.Equal(t, target, attempts[0])
}

func TestBuildAttemptListNameIncludesFallbacksInheritingPort(t *testing.T) {
	target := addr.Endpoint{Host: "example.com", Port: 443}
	fallbacks := addr.ParseFallbackList("1.2.3.4,5.6.7.8:8443")
	attempts := buildAttemptList(target, fallbacks)
	require.Len(t, attempts, 3)
	assert.Equal(t, "example.com", attempts[0].Host)
	assert.Equal(t, "1.2.3.4", attempts[1].Host)
	assert.Equal(t, 443, attempts[1].Port) // inherited
	assert.Equal(t, 8443, attempts[2].Port)
}

func TestDialUpstreamSucceedsOnFirstListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Close()
		}
	}()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	target, err := addr.ParseEndpoint("127.0.0.1:" + port)
	require.NoError(t, err)

	conn, err := dialUpstream(target, nil, 2*time.Second)
	require.NoError(t, err)
	conn.Close()
}

func TestDialUpstreamNonTransientFailureStopsImmediately(t *testing.T) {
	target, err := addr.ParseEndpoint("127.0.0.1:1")
	require.NoError(t, err)
	fallbacks := addr.ParseFallbackList("127.0.0.1:2")

	_, err = dialUpstream(target, fallbacks, 200*time.Millisecond)
	assert.Error(t, err)
}
