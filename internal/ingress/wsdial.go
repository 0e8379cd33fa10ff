package ingress

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/config"
	"github.com/soha0219/ech-ws-tunnel/internal/echtls"
	"github.com/soha0219/ech-ws-tunnel/internal/tunnelerr"
)

// maxDialAttempts caps the ECH refresh-and-retry loop at two total
// attempts, per §4.7 step 6.
const maxDialAttempts = 2

// dialWebSocket implements §4.7: build a wss:// URL from serverAddr, obtain
// an ECH ConfigList (falling back to plain TLS with a logged warning if
// none is available), and dial. On an ECH-named failure it refreshes the
// cached ConfigList and retries once more. Grounded on
// dialWebSocketWithECH.
func (c *Client) dialWebSocket(ctx context.Context) (*websocket.Conn, error) {
	host, port, path := c.serverAddrParts()
	wsURL := fmt.Sprintf("wss://%s:%d%s", host, port, path)

	var lastErr error
	for attempt := 1; attempt <= maxDialAttempts; attempt++ {
		tlsConfig, usedECH := c.buildTLSConfig(host, attempt > 1)

		dialer := &websocket.Dialer{
			NetDialContext:   echtls.NetDialer(c.Config.ServerIPOverride),
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: echtls.DialTimeout,
		}
		if c.Config.Token != "" {
			dialer.Subprotocols = []string{c.Config.Token}
		}

		conn, _, err := dialer.DialContext(ctx, wsURL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if usedECH && echtls.IsECHError(err) && attempt < maxDialAttempts {
			c.Logger.Warn("ech dial failed, refreshing config list and retrying",
				zap.Error(err), zap.Int("attempt", attempt))
			if _, refreshErr := c.ech.Refresh(); refreshErr != nil {
				c.Logger.Warn("ech refresh failed", zap.Error(refreshErr))
			}
			time.Sleep(1 * time.Second)
			continue
		}
		break
	}
	return nil, &tunnelerr.DialError{Target: wsURL, Err: lastErr}
}

// serverAddrParts splits the configured serverAddr into host, port, path.
func (c *Client) serverAddrParts() (host string, port int, path string) {
	ep, p, err := config.SplitServerAddr(c.Config.ServerAddr)
	if err != nil {
		return c.Config.ServerAddr, 443, ""
	}
	return ep.Host, ep.Port, p
}

// buildTLSConfig obtains the ECH ConfigList and builds an ECH-carrying TLS
// config, or falls back to a plain TLS config (logged) if the ConfigList
// can't be fetched. forceRefresh re-fetches even if a cached value exists,
// used on the ECH-retry path.
func (c *Client) buildTLSConfig(host string, forceRefresh bool) (cfg *tls.Config, usedECH bool) {
	var echBytes []byte
	var err error
	if forceRefresh {
		echBytes, err = c.ech.Refresh()
	} else {
		echBytes, err = c.ech.Get()
	}
	if err != nil || len(echBytes) == 0 {
		c.Logger.Warn("ech config list unavailable, falling back to plain TLS (discouraged)", zap.Error(err))
		plain, buildErr := echtls.BuildConfigWithoutECH(host)
		if buildErr != nil {
			c.Logger.Error("building fallback TLS config failed", zap.Error(buildErr))
		}
		return plain, false
	}

	echConfig, buildErr := echtls.BuildConfig(host, echBytes)
	if buildErr != nil {
		c.Logger.Warn("ech config build failed, falling back to plain TLS", zap.Error(buildErr))
		plain, _ := echtls.BuildConfigWithoutECH(host)
		return plain, false
	}
	return echConfig, true
}
