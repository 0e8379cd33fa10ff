package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithDefaultPortForModeAddsPort(t *testing.T) {
	assert.Equal(t, "example.com:443", withDefaultPortForMode("example.com", modeHTTPConnect))
	assert.Equal(t, "example.com:80", withDefaultPortForMode("example.com", modeHTTPProxy))
	assert.Equal(t, "example.com:80", withDefaultPortForMode("example.com", modeSOCKS5))
}

func TestWithDefaultPortForModeKeepsExplicitPort(t *testing.T) {
	assert.Equal(t, "example.com:8080", withDefaultPortForMode("example.com:8080", modeHTTPConnect))
}
