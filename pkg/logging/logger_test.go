package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		logger, err := New(in)
		require.NoError(t, err, in)
		assert.True(t, logger.Core().Enabled(want), in)
		if want > zapcore.DebugLevel {
			assert.False(t, logger.Core().Enabled(want-1), in)
		}
	}
}
