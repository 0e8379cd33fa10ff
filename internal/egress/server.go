// Package egress implements the worker side of the tunnel: authenticated
// WebSocket upgrades, the framed CONNECT handshake with fallback-IP
// cascade, bidirectional relay, and the small HTTP surface served
// alongside the upgrade handler. Grounded on
// tdxf1-ech-tunnel/ech-tunnel.go's runWebSocketServer/handleWebSocket for
// the transport shape, and on original_source's handleTunnel for the
// CONNECT/fallback/keepalive semantics, generalized onto internal/session.
package egress

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/soha0219/ech-ws-tunnel/internal/config"
)

// Server is the egress worker: a session pool, an upgrade handler, and the
// small informational HTTP surface.
type Server struct {
	Config *config.Egress
	Logger *zap.Logger

	upgrader websocket.Upgrader

	activeSessions atomic.Int64
	totalSessions  atomic.Int64
	bytesUp        atomic.Int64
	bytesDown      atomic.Int64

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	idCounter atomic.Int64
}

// NewServer builds a Server from cfg, echoing the token subprotocol the
// teacher's upgrader.Subprotocols offers when one is configured.
func NewServer(cfg *config.Egress, logger *zap.Logger) *Server {
	s := &Server{
		Config: cfg,
		Logger: logger,
		conns:  make(map[net.Conn]struct{}),
	}
	subprotocols := []string(nil)
	if cfg.Token != "" {
		subprotocols = []string{cfg.Token}
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		Subprotocols:    subprotocols,
		ReadBufferSize:  65536,
		WriteBufferSize: 65536,
	}
	return s
}

// Handler builds the net/http mux described by §6's Egress HTTP surface:
// /ping, /, /index.html, the WebSocket upgrade at path, and 404 elsewhere.
func (s *Server) Handler(path string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	if path != "/" {
		mux.HandleFunc("/", s.handleRoot)
		mux.HandleFunc(path, s.handleUpgrade)
	} else {
		mux.HandleFunc("/", s.handleUpgradeOrRoot)
	}
	return mux
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"ts":     time.Now().UnixMilli(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	fmt.Fprint(w, "Hello World!")
}

// handleUpgradeOrRoot is used when the tunnel path is "/" itself: a
// WebSocket Upgrade header routes to the tunnel, anything else falls
// through to the plain "Hello World!" response.
func (s *Server) handleUpgradeOrRoot(w http.ResponseWriter, r *http.Request) {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		s.handleUpgrade(w, r)
		return
	}
	s.handleRoot(w, r)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.Config.Token != "" {
		offered := r.Header.Get("Sec-WebSocket-Protocol")
		if offered != s.Config.Token {
			s.Logger.Warn("upgrade rejected: token mismatch", zap.String("remote", r.RemoteAddr))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if s.activeSessions.Load() >= int64(s.Config.MaxSessions) {
		s.Logger.Warn("upgrade rejected: at capacity", zap.Int64("active", s.activeSessions.Load()))
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	cfg := s.perRequestConfig(r)

	var respHeader http.Header
	if cfg.AllowOrigin != "" {
		respHeader = http.Header{"Access-Control-Allow-Origin": {cfg.AllowOrigin}}
	}
	wsConn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.Logger.Error("upgrade failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.activeSessions.Add(1)
	s.totalSessions.Add(1)
	// r.Context() is canceled as soon as this handler returns, so the
	// session gets a context that outlives the hijacked request.
	go s.handleConn(context.WithoutCancel(r.Context()), wsConn, cfg)
}

// perRequestConfig applies the path-derived fallback override (§6) on top
// of the server's base config, without mutating shared state.
func (s *Server) perRequestConfig(r *http.Request) *config.Egress {
	cfg := *s.Config
	if seg := lastPathSegment(r.URL.Path); seg != "" {
		cfg.ApplyPathFallback(seg)
	}
	return &cfg
}

func lastPathSegment(p string) string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return ""
	}
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

func (s *Server) trackConn(c net.Conn) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(c net.Conn) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

// Shutdown closes every tracked upstream connection, used by the
// entrypoint's graceful-stop path.
func (s *Server) Shutdown() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		c.Close()
	}
}

// Stats is a snapshot of the server's atomic session and byte counters
// (§2's metrics-counters expansion). /ping does not include it.
type Stats struct {
	ActiveSessions int64
	TotalSessions  int64
	BytesUp        int64
	BytesDown      int64
}

func (s *Server) Stats() Stats {
	return Stats{
		ActiveSessions: s.activeSessions.Load(),
		TotalSessions:  s.totalSessions.Load(),
		BytesUp:        s.bytesUp.Load(),
		BytesDown:      s.bytesDown.Load(),
	}
}

func (s *Server) nextSessionID() string {
	return "egress-" + strconv.FormatInt(s.idCounter.Add(1), 10)
}

// generateSelfSignedCert builds a throwaway RSA/TLS certificate for TLS
// listeners run without an operator-supplied cert, grounded on
// tdxf1-ech-tunnel/ech-tunnel.go's generateSelfSignedCert.
func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ech-ws-tunnel"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{derBytes}, PrivateKey: priv}, nil
}

// ListenAndServe serves the egress HTTP/WebSocket surface on listenAddr. If
// certFile/keyFile are both empty, a self-signed certificate is generated
// so TLS still terminates locally (the operator is expected to run ECH-TLS
// termination in front in production).
func ListenAndServe(ctx context.Context, listenAddr, path, certFile, keyFile string, handler http.Handler) error {
	server := &http.Server{Addr: listenAddr, Handler: handler}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	if certFile != "" && keyFile != "" {
		return server.ListenAndServeTLS(certFile, keyFile)
	}
	cert, err := generateSelfSignedCert()
	if err != nil {
		return fmt.Errorf("egress: generate self-signed cert: %w", err)
	}
	server.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS13}
	return server.ListenAndServeTLS("", "")
}
