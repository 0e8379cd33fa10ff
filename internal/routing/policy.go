// Package routing decides "direct" vs "tunnel" for a target host under the
// global/bypass_cn/none policy (§4.6). Grounded on original_source's
// shouldBypassProxy/ShouldBypassProxy, which resolves names via the system
// resolver and treats a host as direct iff any resolved address falls in
// the China IP-range table.
package routing

import (
	"context"
	"net"

	"github.com/soha0219/ech-ws-tunnel/internal/addr"
	"github.com/soha0219/ech-ws-tunnel/internal/config"
	"github.com/soha0219/ech-ws-tunnel/internal/iprange"
)

// Decision is the outcome of a routing policy evaluation.
type Decision int

const (
	Tunnel Decision = iota
	Direct
)

// Decider decides Direct or Tunnel for a host. The default implementation
// is Policy; §4.12's v2ray-core-backed GeoIP/Geosite decider implements the
// same interface as a swappable alternative.
type Decider interface {
	Decide(ctx context.Context, host string) Decision
}

// Resolver abstracts net.DefaultResolver.LookupIPAddr for tests.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Policy implements Decider for the three §4.6 modes using a flat sorted
// IP-range table for bypass_cn.
type Policy struct {
	Mode     config.RoutingMode
	Table    *iprange.Table
	Resolver Resolver
}

// NewPolicy returns a Policy using net.DefaultResolver for name lookups.
func NewPolicy(mode config.RoutingMode, table *iprange.Table) *Policy {
	return &Policy{Mode: mode, Table: table, Resolver: net.DefaultResolver}
}

// Decide implements Decider.
func (p *Policy) Decide(ctx context.Context, host string) Decision {
	switch p.Mode {
	case config.RoutingNone:
		return Direct
	case config.RoutingGlobal:
		return Tunnel
	case config.RoutingBypassCN:
		return p.decideBypassCN(ctx, host)
	default:
		return Tunnel
	}
}

func (p *Policy) decideBypassCN(ctx context.Context, host string) Decision {
	if p.Table == nil {
		return Tunnel
	}
	ep := addr.Endpoint{Host: host}
	if ep.IsIPLiteral() {
		if p.Table.Contains(net.ParseIP(host)) {
			return Direct
		}
		return Tunnel
	}

	addrs, err := p.Resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		// Resolver failure defaults to tunnel per §4.6.
		return Tunnel
	}
	for _, a := range addrs {
		if p.Table.Contains(a.IP) {
			return Direct
		}
	}
	return Tunnel
}
