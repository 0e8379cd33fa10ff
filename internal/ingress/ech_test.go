package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestECHCacheGetFetchesOnEmptyCache(t *testing.T) {
	cache := newECHCache("https://dns.invalid.test/dns-query", "ech.invalid.test")
	_, err := cache.Get()
	// No real DoH server is reachable in tests; this exercises the fetch
	// path and asserts it fails cleanly rather than hanging or panicking.
	assert.Error(t, err)
}

func TestECHCacheReturnsCachedValueWithoutRefetching(t *testing.T) {
	cache := newECHCache("https://dns.invalid.test/dns-query", "ech.invalid.test")
	cache.bytes = []byte{0x01, 0x02, 0x03}
	got, err := cache.Get()
	assert.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, got)
}
