package ingress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/soha0219/ech-ws-tunnel/internal/echtls"
)

// dohFrontDomain is the literal domain-fronting target for the DNS-only
// UDP relay (§4.4): the egress's own cached ECH ConfigList is reused with
// this name as the inner (encrypted) SNI instead of the egress's own
// echDomain, so the query rides the same Cloudflare-edge ECH channel as
// the tunnel dial but is routed to Cloudflare's own DoH resolver.
// Grounded on original_source/client-gui-go/core/ech-workers.go's
// queryDoHForProxy.
const dohFrontDomain = "cloudflare-dns.com"

// queryDoHOverECH POSTs a raw wire-format DNS query to dohFrontDomain over
// a TLS connection carrying the cached ECH ConfigList, dialed to
// ServerIPOverride (or, absent an override, wherever dohFrontDomain
// resolves) on the egress's own port — the same fronting trick
// dialWebSocket uses for the tunnel itself, grounded on the same source.
func (c *Client) queryDoHOverECH(ctx context.Context, query []byte) ([]byte, error) {
	_, port, _ := c.serverAddrParts()

	echBytes, err := c.ech.Get()
	if err != nil {
		return nil, fmt.Errorf("ingress: fetch ech config list for dns relay: %w", err)
	}
	tlsConfig, err := echtls.BuildConfig(dohFrontDomain, echBytes)
	if err != nil {
		return nil, fmt.Errorf("ingress: build ech tls config for dns relay: %w", err)
	}

	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
		DialContext:     echtls.NetDialer(c.Config.ServerIPOverride),
	}
	httpClient := &http.Client{Transport: transport, Timeout: echtls.DialTimeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dnsQueryURL(port), bytes.NewReader(query))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingress: doh-over-ech request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingress: doh-over-ech server returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
