package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestUseReplacesGlobals(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Use(zap.New(core))

	Log().Info("engine loaded", zap.String("id", "abc"))
	S().Debugw("filtered out")
	zap.L().Warn("via global")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "engine loaded", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["id"])
	assert.Equal(t, "via global", entries[1].Message)
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	assert.Error(t, Init(false, "chatty"))
	assert.NoError(t, Init(true, "debug"))
	assert.True(t, Log().Core().Enabled(zap.DebugLevel))
}
