// Package config loads and validates the ingress and egress configuration
// structs. Grounded on soha0219-x/core/core.go's JSON-tagged Config/Inbound
// structs for the shape, and on original_source/client-gui-go's ProxyConfig
// for the field set (serverAddr, dohURL, echDomain, routingMode, fallback
// IPs, timeouts).
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/soha0219/ech-ws-tunnel/internal/addr"
	"github.com/soha0219/ech-ws-tunnel/internal/tunnelerr"
)

// RoutingMode selects the ingress split-routing policy (§4.6).
type RoutingMode string

const (
	RoutingGlobal    RoutingMode = "global"
	RoutingBypassCN  RoutingMode = "bypass_cn"
	RoutingNone      RoutingMode = "none"
)

// Defaults mirror §3/§6.
const (
	DefaultListenAddr = "127.0.0.1:30000"
	DefaultDoHURL     = "https://dns.alidns.com/dns-query"
	DefaultECHDomain  = "cloudflare-ech.com"
	DefaultRouting    = RoutingBypassCN

	DefaultConnectTimeoutMs = 5000
	DefaultReadTimeoutMs    = 180000
	DefaultMaxSessions      = 100
	DefaultAllowOrigin      = "*"
)

// Ingress holds the ingress client's configuration, loaded from a JSON file
// via -c config.json (the teacher's cmd/xlink-cli CLI shape).
type Ingress struct {
	ListenAddr       string      `json:"listenAddr"`
	ServerAddr       string      `json:"serverAddr"`
	ServerIPOverride string      `json:"serverIPOverride,omitempty"`
	Token            string      `json:"token,omitempty"`
	DoHURL           string      `json:"dohURL"`
	ECHDomain        string      `json:"echDomain"`
	RoutingMode      RoutingMode `json:"routingMode"`
}

// LoadIngress reads and unmarshals an Ingress config from path, applying
// defaults for omitted fields, then validates it.
func LoadIngress(path string) (*Ingress, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, tunnelerr.NewConfigError("path", err)
	}
	defer f.Close()
	return ParseIngress(f)
}

// ParseIngress unmarshals an Ingress config from r, applying defaults, then
// validates it.
func ParseIngress(r io.Reader) (*Ingress, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, tunnelerr.NewConfigError("body", err)
	}
	cfg := &Ingress{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, tunnelerr.NewConfigError("json", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Ingress) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.DoHURL == "" {
		c.DoHURL = DefaultDoHURL
	}
	if c.ECHDomain == "" {
		c.ECHDomain = DefaultECHDomain
	}
	if c.RoutingMode == "" {
		c.RoutingMode = DefaultRouting
	}
}

// Validate rejects a malformed listenAddr/serverAddr, a missing serverAddr,
// or an unrecognized routingMode (§3, the "Config error" kind of §7).
func (c *Ingress) Validate() error {
	if _, err := addr.ParseEndpoint(c.ListenAddr); err != nil {
		return tunnelerr.NewConfigError("listenAddr", err)
	}
	if c.ServerAddr == "" {
		return tunnelerr.NewConfigError("serverAddr", fmt.Errorf("required"))
	}
	if _, _, err := SplitServerAddr(c.ServerAddr); err != nil {
		return tunnelerr.NewConfigError("serverAddr", err)
	}
	switch c.RoutingMode {
	case RoutingGlobal, RoutingBypassCN, RoutingNone:
	default:
		return tunnelerr.NewConfigError("routingMode", fmt.Errorf("unrecognized mode %q", c.RoutingMode))
	}
	return nil
}

// SplitServerAddr parses "host:port/path" (path optional) into an Endpoint
// and the path, preserving the §4.7 step-1 behavior.
func SplitServerAddr(serverAddr string) (addr.Endpoint, string, error) {
	hostPort := serverAddr
	path := ""
	if idx := strings.IndexByte(serverAddr, '/'); idx >= 0 {
		hostPort = serverAddr[:idx]
		path = serverAddr[idx:]
	}
	ep, err := addr.ParseEndpoint(hostPort)
	if err != nil {
		return addr.Endpoint{}, "", err
	}
	return ep, path, nil
}

// Egress holds the egress server's configuration, loaded from the
// environment with an optional -c config.json override for non-secret
// fields (§6).
type Egress struct {
	Token            string             `json:"-"`
	FallbackIPs      addr.FallbackList  `json:"fallbackIPs"`
	ConnectTimeoutMs int                `json:"connectTimeoutMs"`
	ReadTimeoutMs    int                `json:"readTimeoutMs"`
	MaxSessions      int                `json:"maxSessions"`
	AllowedHosts     []string           `json:"allowedHosts"`
	AllowOrigin      string             `json:"allowOrigin"`
	LogLevel         string             `json:"-"`
}

// egressFile is the JSON shape accepted by -c config.json; FallbackIPs is
// decoded as strings here and reparsed through addr.ParseFallbackList so
// the env-var and file paths share one parser.
type egressFile struct {
	FallbackIPs      []string `json:"fallbackIPs"`
	ConnectTimeoutMs int      `json:"connectTimeoutMs"`
	ReadTimeoutMs    int      `json:"readTimeoutMs"`
	MaxSessions      int      `json:"maxSessions"`
	AllowedHosts     []string `json:"allowedHosts"`
	AllowOrigin      string   `json:"allowOrigin"`
}

// LoadEgress builds an Egress config from the environment, then applies an
// optional JSON file override at overridePath (pass "" to skip), then
// validates the result. TOKEN always comes from the environment regardless
// of the override file, per §6.
func LoadEgress(overridePath string) (*Egress, error) {
	cfg := &Egress{
		Token:            os.Getenv("TOKEN"),
		FallbackIPs:      addr.ParseFallbackList(os.Getenv("FALLBACK_IPS")),
		ConnectTimeoutMs: envIntOrDefault("CONNECT_TIMEOUT_MS", DefaultConnectTimeoutMs),
		ReadTimeoutMs:    envIntOrDefault("READ_TIMEOUT_MS", DefaultReadTimeoutMs),
		MaxSessions:      envIntOrDefault("MAX_SESSIONS", DefaultMaxSessions),
		AllowedHosts:     splitNonEmpty(os.Getenv("ALLOWED_HOSTS"), ","),
		AllowOrigin:      envOrDefault("ALLOW_ORIGIN", DefaultAllowOrigin),
		LogLevel:         os.Getenv("LOG_LEVEL"),
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, tunnelerr.NewConfigError("path", err)
		}
		var file egressFile
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, tunnelerr.NewConfigError("json", err)
		}
		applyEgressFileOverride(cfg, &file)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEgressFileOverride(cfg *Egress, file *egressFile) {
	if len(file.FallbackIPs) > 0 {
		cfg.FallbackIPs = addr.ParseFallbackList(strings.Join(file.FallbackIPs, ","))
	}
	if file.ConnectTimeoutMs > 0 {
		cfg.ConnectTimeoutMs = file.ConnectTimeoutMs
	}
	if file.ReadTimeoutMs > 0 {
		cfg.ReadTimeoutMs = file.ReadTimeoutMs
	}
	if file.MaxSessions > 0 {
		cfg.MaxSessions = file.MaxSessions
	}
	if file.AllowedHosts != nil {
		cfg.AllowedHosts = file.AllowedHosts
	}
	if file.AllowOrigin != "" {
		cfg.AllowOrigin = file.AllowOrigin
	}
}

// ApplyPathFallback overrides FallbackIPs from the last URL path segment of
// an upgrade request, per §6's path-derived fallback override.
func (c *Egress) ApplyPathFallback(pathSegment string) {
	if pathSegment == "" {
		return
	}
	if parsed := addr.ParsePathFallbackList(pathSegment); len(parsed) > 0 {
		c.FallbackIPs = parsed
	}
}

// Validate rejects zero/negative timeouts and maxSessions <= 0 (§3).
func (c *Egress) Validate() error {
	if c.ConnectTimeoutMs <= 0 {
		return tunnelerr.NewConfigError("connectTimeoutMs", fmt.Errorf("must be positive"))
	}
	if c.ReadTimeoutMs <= 0 {
		return tunnelerr.NewConfigError("readTimeoutMs", fmt.Errorf("must be positive"))
	}
	if c.MaxSessions <= 0 {
		return tunnelerr.NewConfigError("maxSessions", fmt.Errorf("must be positive"))
	}
	return nil
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
