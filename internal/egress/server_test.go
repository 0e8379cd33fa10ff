package egress

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soha0219/ech-ws-tunnel/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	cfg := &config.Egress{ConnectTimeoutMs: 1000, ReadTimeoutMs: 1000, MaxSessions: 10, AllowOrigin: "*"}
	logger := zap.NewNop()
	return NewServer(cfg, logger)
}

func TestHandlePingReturnsStatusOK(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	s.Handler("/tunnel").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHandleRootReturnsHelloWorld(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Handler("/tunnel").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello World!", rec.Body.String())
}

func TestHandleRootUnknownPathIs404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	s.Handler("/tunnel").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleUpgradeRejectsTokenMismatch(t *testing.T) {
	cfg := &config.Egress{ConnectTimeoutMs: 1000, ReadTimeoutMs: 1000, MaxSessions: 10, Token: "secret"}
	s := NewServer(cfg, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/tunnel", nil)
	req.Header.Set("Sec-WebSocket-Protocol", "wrong")
	rec := httptest.NewRecorder()
	s.Handler("/tunnel").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleUpgradeRejectsOverCapacity(t *testing.T) {
	s := newTestServer(t)
	s.activeSessions.Store(10)

	req := httptest.NewRequest(http.MethodGet, "/tunnel", nil)
	rec := httptest.NewRecorder()
	s.Handler("/tunnel").ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLastPathSegment(t *testing.T) {
	assert.Equal(t, "1.2.3.4-443", lastPathSegment("/tunnel/1.2.3.4-443"))
	assert.Equal(t, "", lastPathSegment("/"))
}

func TestHostAllowed(t *testing.T) {
	assert.True(t, hostAllowed(nil, "example.com"))
	assert.True(t, hostAllowed([]string{"example.com"}, "example.com"))
	assert.False(t, hostAllowed([]string{"example.com"}, "other.com"))
}

func TestNewServerTest(t *testing.T) {
	require.NotNil(t, newTestServer(t))
}
