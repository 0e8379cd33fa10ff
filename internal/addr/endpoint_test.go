package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointRoundTrip(t *testing.T) {
	cases := []string{
		"example.com:443",
		"1.2.3.4:80",
		"[2001:db8::1]:443",
	}
	for _, c := range cases {
		ep, err := ParseEndpoint(c)
		require.NoError(t, err)
		assert.Equal(t, c, ep.String())
	}
}

func TestParseEndpointRejectsInvalidPort(t *testing.T) {
	_, err := ParseEndpoint("example.com:0")
	assert.Error(t, err)

	_, err = ParseEndpoint("example.com:65536")
	assert.Error(t, err)
}

func TestParseEndpointRejectsIPv6NoPort(t *testing.T) {
	_, err := ParseEndpoint("2001:db8::1")
	assert.Error(t, err)
}

func TestParsePathSegment(t *testing.T) {
	ep, err := ParsePathSegment("1.2.3.4-21415")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", ep.Host)
	assert.Equal(t, 21415, ep.Port)
}

func TestWithDefaultPort(t *testing.T) {
	ep, err := WithDefaultPort("example.com", 80)
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "example.com", Port: 80}, ep)

	ep, err = WithDefaultPort("example.com:8080", 80)
	require.NoError(t, err)
	assert.Equal(t, 8080, ep.Port)
}

func TestParseFallbackListInheritsPort(t *testing.T) {
	list := ParseFallbackList("1.2.3.4:21415,proxy.example.net")
	require.Len(t, list, 2)
	assert.Equal(t, Endpoint{Host: "1.2.3.4", Port: 21415}, list[0].Resolve(443))
	assert.Equal(t, Endpoint{Host: "proxy.example.net", Port: 443}, list[1].Resolve(443))
}

func TestParsePathFallbackList(t *testing.T) {
	list := ParsePathFallbackList("1.2.3.4-21415,proxy.example.net")
	require.Len(t, list, 2)
	assert.Equal(t, Endpoint{Host: "1.2.3.4", Port: 21415}, list[0].Resolve(443))
}

func TestIsIPLiteral(t *testing.T) {
	ep, _ := ParseEndpoint("1.2.3.4:80")
	assert.True(t, ep.IsIPLiteral())

	ep, _ = ParseEndpoint("example.com:80")
	assert.False(t, ep.IsIPLiteral())
}
