package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/config"
)

func newTestClient(t *testing.T) *Client {
	cfg := &config.Ingress{
		ListenAddr:  "127.0.0.1:0",
		ServerAddr:  "egress.example.com:443/tunnel",
		DoHURL:      "https://dns.example.invalid/dns-query",
		ECHDomain:   "ech.example.invalid",
		RoutingMode: config.RoutingBypassCN,
	}
	return New(cfg, nil, zap.NewNop())
}

func TestIsHTTPLeadByte(t *testing.T) {
	for _, b := range []byte{'C', 'G', 'P', 'H', 'D', 'O', 'T'} {
		assert.True(t, isHTTPLeadByte(b))
	}
	assert.False(t, isHTTPLeadByte('X'))
	assert.False(t, isHTTPLeadByte(0x05))
}

func TestServerAddrPartsSplitsHostPortPath(t *testing.T) {
	c := newTestClient(t)
	host, port, path := c.serverAddrParts()
	assert.Equal(t, "egress.example.com", host)
	assert.Equal(t, 443, port)
	assert.Equal(t, "/tunnel", path)
}

func TestNextConnIDIncrements(t *testing.T) {
	c := newTestClient(t)
	first := c.nextConnID()
	second := c.nextConnID()
	assert.Equal(t, first+1, second)
}

func TestStopIsIdempotentBeforeRun(t *testing.T) {
	c := newTestClient(t)
	require.False(t, c.isRunning())
	c.Stop()
	c.Stop()
}
