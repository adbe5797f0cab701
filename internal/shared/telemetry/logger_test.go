package telemetry

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWriteUsesLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { Configure("info") })

	Info("worker.job.completed", map[string]any{"document_id": "doc-1", "attempt": 2})
	Error("worker.job.failed", map[string]any{"error": errors.New("boom")})

	entries := logs.AllUntimed()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "worker.job.completed" || entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
	ctx := entries[0].ContextMap()
	if ctx["document_id"] != "doc-1" {
		t.Fatalf("expected document_id field, got %v", ctx)
	}
	if got := entries[1].ContextMap()["error"]; got != "boom" {
		t.Fatalf("expected error string field, got %v", got)
	}
}
