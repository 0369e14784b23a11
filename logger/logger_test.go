package logger_test

import (
	"log/slog"
	"testing"

	"github.com/deeppavlov/dialgo-flow-framework/logger"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for name, want := range cases {
		assert.Equal(t, want, logger.ParseLevel(name), "level %q", name)
	}
}

func TestSetLevel_ReplacesLogger(t *testing.T) {
	before := logger.DefaultLogger
	logger.SetLevel(slog.LevelDebug)
	assert.NotSame(t, before, logger.DefaultLogger)
	assert.True(t, logger.DefaultLogger.Enabled(nil, slog.LevelDebug))
}

func TestSetLogger(t *testing.T) {
	custom := slog.New(slog.NewJSONHandler(nil, nil))
	logger.SetLogger(custom)
	assert.Same(t, custom, logger.DefaultLogger)
}
