package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceIDIsAttached(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	prev := Log
	Log = zap.New(core)
	defer func() { Log = prev }()

	ctx := WithTraceID(context.Background(), "cycle-42")
	Info(ctx, "hello", zap.Int("n", 1))
	Warn(context.Background(), "no trace")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "cycle-42", entries[0].ContextMap()["trace_id"])
	assert.EqualValues(t, 1, entries[0].ContextMap()["n"])
	_, ok := entries[1].ContextMap()["trace_id"]
	assert.False(t, ok)
}

func TestNopLoggerBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Error(context.Background(), "ignored")
	})
	assert.Equal(t, "", TraceID(context.Background()))
}
