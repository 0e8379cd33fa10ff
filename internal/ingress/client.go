// Package ingress implements the local SOCKS5/HTTP(S)-CONNECT proxy: the
// accept loop and protocol sniff, the ECH-TLS+WebSocket dialer with retry,
// the routing-policy split between the direct and tunneled paths, and
// connection lifecycle tracking. Grounded on
// original_source/client-gui-go/core/ech-workers.go's ProxyServer
// (runProxyServer/handleConnection/dialWebSocketWithECH/handleTunnel/
// handleDirectConnection).
package ingress

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/config"
	"github.com/soha0219/ech-ws-tunnel/internal/iprange"
	"github.com/soha0219/ech-ws-tunnel/internal/routing"
)

// Client is one running ingress listener: its config, routing decider, ECH
// cache, and the bookkeeping needed to stop cleanly.
type Client struct {
	Config  *config.Ingress
	Logger  *zap.Logger
	Decider routing.Decider

	ech *echCache

	listener net.Listener

	mu          sync.Mutex
	running     bool
	activeConns map[net.Conn]struct{}

	idCounter int64
}

// New builds a Client. table may be nil, which makes bypass_cn default to
// tunnel for every name (see routing.Policy.decideBypassCN).
func New(cfg *config.Ingress, table *iprange.Table, logger *zap.Logger) *Client {
	return &Client{
		Config:      cfg,
		Logger:      logger,
		Decider:     routing.NewPolicy(cfg.RoutingMode, table),
		ech:         newECHCache(cfg.DoHURL, cfg.ECHDomain),
		activeConns: make(map[net.Conn]struct{}),
	}
}

// Run binds the listen address and accepts connections until ctx is
// canceled or the listener errors. Grounded on runProxyServer.
func (c *Client) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ingress: listen %s: %w", c.Config.ListenAddr, err)
	}
	c.listener = ln

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	c.Logger.Info("ingress listening", zap.String("addr", c.Config.ListenAddr))

	go func() {
		<-ctx.Done()
		c.Stop()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			c.mu.Lock()
			stillRunning := c.running
			c.mu.Unlock()
			if !stillRunning {
				return nil
			}
			return fmt.Errorf("ingress: accept: %w", err)
		}
		go c.handleConnection(ctx, conn)
	}
}

// Stop closes the listener and every tracked connection, matching the
// teacher's isRunning+activeConns shutdown.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	conns := make([]net.Conn, 0, len(c.activeConns))
	for conn := range c.activeConns {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	if c.listener != nil {
		c.listener.Close()
	}
	for _, conn := range conns {
		conn.Close()
	}
}

func (c *Client) track(conn net.Conn) {
	c.mu.Lock()
	c.activeConns[conn] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) untrack(conn net.Conn) {
	c.mu.Lock()
	delete(c.activeConns, conn)
	c.mu.Unlock()
}

func (c *Client) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Client) nextConnID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idCounter++
	return c.idCounter
}

// handleConnection implements the §4.3 protocol sniff: peek the first byte,
// then hand off to the SOCKS5 or HTTP handler. 300 s initial deadline, per
// §4.3.
func (c *Client) handleConnection(ctx context.Context, conn net.Conn) {
	if !c.isRunning() {
		conn.Close()
		return
	}
	conn.SetDeadline(time.Now().Add(300 * time.Second))
	c.track(conn)
	defer c.untrack(conn)
	defer conn.Close()

	id := c.nextConnID()
	logger := c.Logger.With(zap.Int64("conn_id", id), zap.String("remote", conn.RemoteAddr().String()))

	first := make([]byte, 1)
	if _, err := conn.Read(first); err != nil {
		logger.Debug("sniff read failed", zap.Error(err))
		return
	}

	switch {
	case first[0] == 0x05:
		c.handleSOCKS5(ctx, conn, logger)
	case isHTTPLeadByte(first[0]):
		c.handleHTTP(ctx, conn, first[0], logger)
	default:
		logger.Debug("unknown protocol, dropping", zap.Uint8("byte", first[0]))
	}
}

// isHTTPLeadByte reports whether b is the first byte of one of the HTTP
// methods this proxy forwards, per §4.3.
func isHTTPLeadByte(b byte) bool {
	switch b {
	case 'C', 'G', 'P', 'H', 'D', 'O', 'T':
		return true
	default:
		return false
	}
}
