package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDNSQueryURL(t *testing.T) {
	assert.Equal(t, "https://cloudflare-dns.com:443/dns-query", dnsQueryURL(443))
}
