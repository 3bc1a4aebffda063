package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"development", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestGet_BeforeInitIsNop(t *testing.T) {
	mu.Lock()
	global = nil
	mu.Unlock()

	log := Get()
	require.NotNil(t, log)
	log.Info("dropped")
}

func TestInit(t *testing.T) {
	err := Init(&Config{Level: "debug", ServiceName: "test", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, Get().Zap())
	Sync()
}

func TestWithCorrelationID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := New(zap.New(core))

	log.WithCorrelationID("corr-1").Info("hello", zap.String("k", "v"))
	log.WithCorrelationID("").Info("no correlation")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "corr-1", entries[0].ContextMap()["correlation_id"])
	_, ok := entries[1].ContextMap()["correlation_id"]
	assert.False(t, ok)
}
