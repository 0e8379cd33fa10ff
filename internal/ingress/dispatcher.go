package ingress

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/httpproxy"
	"github.com/soha0219/ech-ws-tunnel/internal/routing"
	"github.com/soha0219/ech-ws-tunnel/internal/socks5"
)

// mode distinguishes the three inbound protocols the success/error
// responses are tailored to, mirroring the teacher's modeSOCKS5/
// modeHTTPConnect/modeHTTPProxy constants.
type mode int

const (
	modeSOCKS5 mode = iota
	modeHTTPConnect
	modeHTTPProxy
)

// handleSOCKS5 negotiates no-auth SOCKS5, reads one request, and dispatches
// CONNECT into the routing split or UDP ASSOCIATE into the DNS relay.
// Grounded on handleSOCKS5 in original_source.
func (c *Client) handleSOCKS5(ctx context.Context, conn net.Conn, logger *zap.Logger) {
	if err := socks5.Negotiate(conn); err != nil {
		logger.Debug("socks5 negotiate failed", zap.Error(err))
		return
	}
	req, err := socks5.ReadRequest(conn)
	if err != nil {
		logger.Debug("socks5 read request failed", zap.Error(err))
		return
	}

	switch req.Command {
	case socks5.CmdConnect:
		c.routeAndTunnel(ctx, conn, req.Target, modeSOCKS5, "", logger)
	case socks5.CmdUDPAssociate:
		socks5.HandleUDPAssociate(conn, c.dnsRelay(), logger)
	default:
		socks5.WriteReply(conn, socks5.ReplyCommandNotSupported)
	}
}

// handleHTTP parses one HTTP CONNECT or forward-proxy request (the sniff
// byte already consumed is pushed back via a bufio.Reader primed with it)
// and dispatches into the routing split. Grounded on handleHTTP in
// original_source.
func (c *Client) handleHTTP(ctx context.Context, conn net.Conn, sniffByte byte, logger *zap.Logger) {
	r := bufio.NewReader(io.MultiReader(bytes.NewReader([]byte{sniffByte}), conn))
	req, err := httpproxy.Parse(r)
	if err != nil {
		logger.Debug("http parse failed", zap.Error(err))
		conn.Write([]byte("HTTP/1.1 405 Method Not Allowed\r\n\r\n"))
		return
	}

	switch req.Mode {
	case httpproxy.ModeConnect:
		c.routeAndTunnel(ctx, conn, req.Target, modeHTTPConnect, "", logger)
	case httpproxy.ModeForward:
		c.routeAndTunnel(ctx, conn, req.Target, modeHTTPProxy, string(req.FirstPayload), logger)
	}
}

// routeAndTunnel applies the §4.6 routing decision and dispatches to the
// direct or tunneled path. firstFrame, when non-empty, is data already read
// from the client that must be replayed to the target before relaying
// (the rewritten forward-proxy request).
func (c *Client) routeAndTunnel(ctx context.Context, conn net.Conn, target string, m mode, firstFrame string, logger *zap.Logger) {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		host = target
	}

	decision := c.Decider.Decide(ctx, host)
	if decision == routing.Direct {
		logger.Info("routing direct", zap.String("target", target))
		if err := c.handleDirectConnection(conn, target, m, firstFrame, logger); err != nil {
			logger.Debug("direct connection ended", zap.Error(err))
		}
		return
	}

	logger.Info("routing tunnel", zap.String("target", target))
	if err := c.handleTunnel(ctx, conn, target, m, firstFrame, logger); err != nil {
		logger.Warn("tunnel connection ended", zap.Error(err))
	}
}

// dnsRelay adapts the ingress's own ECH-fronted DoH dial onto
// socks5.DNSRelay for UDP ASSOCIATE's DNS-only forwarding (§4.4).
func (c *Client) dnsRelay() socks5.DNSRelay {
	return dnsOverECH{client: c}
}

type dnsOverECH struct {
	client *Client
}

func (d dnsOverECH) QueryRaw(ctx context.Context, query []byte) ([]byte, error) {
	return d.client.queryDoHOverECH(ctx, query)
}

// dnsQueryURL builds the literal Cloudflare-fronted DoH URL the DNS-only
// UDP relay POSTs to, per §4.4: the host is always "cloudflare-dns.com"
// (the domain-fronting target), with the egress's own port, so the raw
// query travels over the same ECH-carrying channel as the tunnel dial.
func dnsQueryURL(port int) string {
	return "https://" + dohFrontDomain + ":" + strconv.Itoa(port) + "/dns-query"
}
