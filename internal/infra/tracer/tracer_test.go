package tracer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"

	"termagent/internal/infra/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer shutdown(context.Background())

	if _, ok := otel.GetTracerProvider().(noop.TracerProvider); !ok {
		t.Errorf("expected noop provider, got %T", otel.GetTracerProvider())
	}
}

func TestSetupExporters(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracerConfig
		wantErr bool
	}{
		{"noop", config.TracerConfig{Enabled: true, Exporter: "noop"}, false},
		{"empty", config.TracerConfig{Enabled: true}, false},
		{"stdout", config.TracerConfig{Enabled: true, Exporter: "stdout"}, false},
		{"unsupported", config.TracerConfig{Enabled: true, Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Setup: %v", err)
			}
			shutdown(context.Background())
		})
	}
}

func TestSetupFileUnderRegularFileFails(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "file", Path: filepath.Join(blocker, "trace.json")})
	if err == nil {
		t.Fatal("expected error when the trace dir cannot be created")
	}
}

func TestSetupFileExporterWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "trace.json")
	shutdown, err := Setup(context.Background(), config.TracerConfig{Enabled: true, Exporter: "file", Path: path})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}

	_, span := StartSpan(context.Background(), "llm.stream")
	span.SetAttributes(StringAttr("model", "qwen"), IntAttr("messages", 3), BoolAttr("native_tools", false))
	SetOK(span)
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Errorf("trace file empty: %v", err)
	}
	otel.SetTracerProvider(noop.NewTracerProvider())
}

func TestRecordErrorDoesNotPanic(t *testing.T) {
	otel.SetTracerProvider(noop.NewTracerProvider())
	_, span := StartSpan(context.Background(), "tool.execute")
	RecordError(span, errors.New("boom"))
	span.End()
}
