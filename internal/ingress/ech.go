package ingress

import (
	"sync"

	"github.com/soha0219/ech-ws-tunnel/internal/doh"
)

// echCache holds the ECH ConfigList fetched from DoH for the configured
// echDomain, cached for the process lifetime and refreshed on demand.
// Grounded on original_source's ps.echConfigList field plus
// getECHList/refreshECH.
type echCache struct {
	dohURL string
	domain string
	client *doh.Client

	mu    sync.RWMutex
	bytes []byte
}

func newECHCache(dohURL, domain string) *echCache {
	return &echCache{dohURL: dohURL, domain: domain, client: doh.NewClient()}
}

// Get returns the cached ConfigList, fetching it first if the cache is
// empty.
func (e *echCache) Get() ([]byte, error) {
	e.mu.RLock()
	cached := e.bytes
	e.mu.RUnlock()
	if len(cached) > 0 {
		return cached, nil
	}
	return e.Refresh()
}

// Refresh re-fetches the ConfigList from DoH and replaces the cache,
// matching §4.7 step 6's refresh-and-retry trigger.
func (e *echCache) Refresh() ([]byte, error) {
	fresh, err := e.client.QueryECHConfigList(e.dohURL, e.domain)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.bytes = fresh
	e.mu.Unlock()
	return fresh, nil
}
