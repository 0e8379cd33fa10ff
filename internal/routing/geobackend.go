// geobackend.go implements the optional v2ray-core-backed GeoIP/Geosite
// routing decider described in SPEC_FULL.md §4.12. Grounded verbatim on
// soha0219-x/ech-workers.go's initRouter/shouldProxy/memoryLoader: the same
// //go:embed pattern, the same memoryLoader shape, and the same cn-tagged
// GeoIP+Geosite router.Config. geoip.dat and geosite.dat are checked into
// this repo as empty placeholders, so NewGeoBackend returns an error.
// Nothing outside this file constructs a GeoBackend; the ingress always
// uses Policy (the default, tested backend).
package routing

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"

	core "github.com/v2fly/v2ray-core/v5"
	"github.com/v2fly/v2ray-core/v5/app/router"
	v2net "github.com/v2fly/v2ray-core/v5/common/net"
	"github.com/v2fly/v2ray-core/v5/features/routing"
	"github.com/v2fly/v2ray-core/v5/infra/conf/geodata"
)

//go:embed geodata/geoip.dat
var geoipBytes []byte

//go:embed geodata/geosite.dat
var geositeBytes []byte

type memoryLoader struct{}

func (l *memoryLoader) LoadGeoIP(country string) (*router.GeoIP, error) {
	return router.LoadGeoIP(bytes.NewReader(geoipBytes))
}

func (l *memoryLoader) LoadGeosite(list string) (*router.GeoSite, error) {
	return router.LoadGeosite(bytes.NewReader(geositeBytes))
}

// GeoBackend decides Direct/Tunnel using a v2ray-core routing.Router loaded
// from embedded GeoIP/Geosite data, matching rules tagged "direct" against
// CN IP ranges and CN domain suffixes.
type GeoBackend struct {
	router routing.Router
}

// NewGeoBackend builds a GeoBackend from the embedded geoip.dat/geosite.dat.
// It returns an error if either file is empty, mirroring the teacher's
// initRouter guard so a build without the .dat files present fails loudly
// instead of silently routing everything the same way.
func NewGeoBackend() (*GeoBackend, error) {
	if len(geoipBytes) == 0 || len(geositeBytes) == 0 {
		return nil, errors.New("routing: embedded geoip.dat/geosite.dat are empty; rebuild with the data files present to use the geo backend")
	}
	geodata.DefaultLoader = &memoryLoader{}

	cfg := &router.Config{
		DomainStrategy: router.DomainStrategy_IpIfNonMatch,
		Rule: []*router.RoutingRule{
			{Geoip: []*router.GeoIP{{Code: "cn"}}, TargetTag: &router.RouteTarget{Tag: "direct"}},
			{Geosite: []*router.Geosite{{Code: "cn"}}, TargetTag: &router.RouteTarget{Tag: "direct"}},
		},
	}

	obj, err := core.CreateObject(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("routing: create v2ray router: %w", err)
	}
	r, ok := obj.(routing.Router)
	if !ok {
		return nil, errors.New("routing: unexpected router object type")
	}
	return &GeoBackend{router: r}, nil
}

// Decide implements Decider using CN GeoIP/Geosite matching; any lookup
// failure defaults to Tunnel, consistent with Policy's resolver-failure
// behavior.
func (g *GeoBackend) Decide(ctx context.Context, host string) Decision {
	port := v2net.Port(80)
	var dest v2net.Destination
	if ip := net.ParseIP(host); ip != nil {
		dest = v2net.UDPDestination(v2net.IPAddress(ip), port)
	} else {
		dest = v2net.UDPDestination(v2net.DomainAddress(host), port)
	}

	route, err := g.router.PickRoute(routing.ContextWithDestination(ctx, dest))
	if err != nil {
		return Tunnel
	}
	if route.GetTag() == "direct" {
		return Direct
	}
	return Tunnel
}
