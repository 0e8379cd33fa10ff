package ingress

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendSuccessResponseSOCKS5(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		require.NoError(t, sendSuccessResponse(server, modeSOCKS5))
	}()

	buf := make([]byte, 10)
	_, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}, buf)
}

func TestSendSuccessResponseHTTPConnect(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		require.NoError(t, sendSuccessResponse(server, modeHTTPConnect))
	}()

	buf := make([]byte, 40)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "200 Connection Established")
}

func TestSendSuccessResponseForwardProxyIsNoop(t *testing.T) {
	server, _ := net.Pipe()
	defer server.Close()
	assert.NoError(t, sendSuccessResponse(server, modeHTTPProxy))
}

func TestSendErrorResponseHTTP(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go sendErrorResponse(server, modeHTTPConnect)

	buf := make([]byte, 40)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "502 Bad Gateway")
}
