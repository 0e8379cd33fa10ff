package echtls

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildConfigRejectsEmptyECHList(t *testing.T) {
	_, err := BuildConfig("cloudflare-ech.com", nil)
	assert.Error(t, err)
}

func TestBuildConfigSetsFields(t *testing.T) {
	cfg, err := BuildConfig("cloudflare-ech.com", []byte{0x01, 0x02})
	require.NoError(t, err)
	assert.Equal(t, "cloudflare-ech.com", cfg.ServerName)
	assert.Equal(t, []byte{0x01, 0x02}, cfg.EncryptedClientHelloConfigList)
	require.NotNil(t, cfg.EncryptedClientHelloRejectionVerify)
	assert.Error(t, cfg.EncryptedClientHelloRejectionVerify(tls.ConnectionState{}))
}

func TestBuildConfigWithoutECHHasNoECHFields(t *testing.T) {
	cfg, err := BuildConfigWithoutECH("cloudflare-ech.com")
	require.NoError(t, err)
	assert.Nil(t, cfg.EncryptedClientHelloConfigList)
}

func TestNetDialerUsesOverrideIP(t *testing.T) {
	dial := NetDialer("127.0.0.1")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	conn, err := dial(context.Background(), "tcp", net.JoinHostPort("example.invalid", port))
	require.NoError(t, err)
	conn.Close()
}

func TestIsECHError(t *testing.T) {
	assert.True(t, IsECHError(errors.New("tls: ECH required")))
	assert.False(t, IsECHError(errors.New("connection refused")))
	assert.False(t, IsECHError(nil))
}
