package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"", "debug", "info", "WARN", "error"} {
		l, err := New(level)
		require.NoError(t, err, level)
		assert.NotNil(t, l)
	}

	_, err := New("chatty")
	assert.Error(t, err)

	l, err := New("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestWithContext_SkipsEmpty(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := &Logger{Logger: zap.New(core)}

	l.WithContext("corr-1", "acme", "").Info("hello")
	l.ForConversation("acme", "s-1").Named("orchestrator").Info("turn")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{"correlation_id": "corr-1", "tenant_id": "acme"}, entries[0].ContextMap())
	assert.Equal(t, "s-1", entries[1].ContextMap()["session_id"])
	assert.Equal(t, "orchestrator", entries[1].LoggerName)
}
