package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevelDefaultsToInfo(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
}

func TestNewBuildsLoggerForEachLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "error", ""} {
		logger, err := New(lvl)
		require.NoError(t, err)
		require.NotNil(t, logger)
		defer logger.Sync()
	}
}

func TestForSessionAddsFields(t *testing.T) {
	base, err := New("info")
	require.NoError(t, err)
	child := ForSession(base, "sess-1", "example.com:443")
	require.NotNil(t, child)
}
