package httpproxy

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConnectAddsDefaultPort(t *testing.T) {
	raw := "CONNECT example.com HTTP/1.1\r\nHost: example.com\r\n\r\n"
	req, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, ModeConnect, req.Mode)
	assert.Equal(t, "example.com:443", req.Target)
}

func TestParseConnectKeepsExplicitPort(t *testing.T) {
	raw := "CONNECT example.com:8443 HTTP/1.1\r\n\r\n"
	req, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, "example.com:8443", req.Target)
}

func TestParseForwardAbsoluteURIRewritesToRelativePath(t *testing.T) {
	raw := "GET http://example.com/a/b?x=1 HTTP/1.1\r\nHost: example.com\r\nProxy-Connection: keep-alive\r\n\r\n"
	req, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, ModeForward, req.Mode)
	assert.Equal(t, "example.com:80", req.Target)
	body := string(req.FirstPayload)
	assert.True(t, strings.HasPrefix(body, "GET /a/b?x=1 HTTP/1.1\r\n"))
	assert.NotContains(t, body, "Proxy-Connection")
}

func TestParseForwardHostHeaderRelativePath(t *testing.T) {
	raw := "POST /submit HTTP/1.1\r\nHost: api.example.com:8080\r\nContent-Length: 5\r\n\r\nhello"
	req, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.Equal(t, "api.example.com:8080", req.Target)
	assert.True(t, strings.HasSuffix(string(req.FirstPayload), "hello"))
}

func TestParseDropsProxyAuthorizationHeader(t *testing.T) {
	raw := "GET http://example.com/ HTTP/1.1\r\nHost: example.com\r\nProxy-Authorization: Basic xyz\r\n\r\n"
	req, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	require.NoError(t, err)
	assert.NotContains(t, string(req.FirstPayload), "Proxy-Authorization")
}

func TestParseUnsupportedMethod(t *testing.T) {
	raw := "FOO / HTTP/1.1\r\n\r\n"
	_, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	var unsupported *ErrUnsupportedMethod
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "FOO", unsupported.Method)
}

func TestParseMissingTargetErrors(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n\r\n"
	_, err := Parse(bufio.NewReader(strings.NewReader(raw)))
	assert.Error(t, err)
}
