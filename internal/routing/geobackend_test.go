package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGeoBackendErrorsOnEmptyEmbeddedData(t *testing.T) {
	// This repo ships placeholder empty geoip.dat/geosite.dat (§4.12): the
	// flat chn_ip.txt table is the default, tested backend. NewGeoBackend
	// must fail loudly rather than silently building a no-op router.
	_, err := NewGeoBackend()
	assert.Error(t, err)
}
