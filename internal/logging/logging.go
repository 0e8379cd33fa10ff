// Package logging builds the *zap.Logger both entrypoints construct at
// startup and thread explicitly through the ingress/egress call graph, in
// place of a package-level global. Grounded on the teacher's transitive
// go.uber.org/zap dependency and on other_examples' apernet/hysteria
// client, which attaches structured fields (zap.String, zap.Error) to
// every SOCKS5/HTTP/relay log line instead of formatting free text.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger from a LOG_LEVEL-style string ("debug", "info",
// "warn", "error"; case-insensitive, empty defaults to "info"). "debug"
// selects development encoding (human-readable, caller info); anything
// else selects production JSON encoding, matching the teacher's split
// between interactive CLI runs and worker deployment.
func New(level string) (*zap.Logger, error) {
	lvl := parseLevel(level)
	if lvl == zapcore.DebugLevel {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(lvl)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ForSession returns a child logger carrying session_id and target fields,
// matching original_source's explicit per-session logCallback context
// (§4.11).
func ForSession(base *zap.Logger, sessionID, target string) *zap.Logger {
	return base.With(zap.String("session_id", sessionID), zap.String("target", target))
}
