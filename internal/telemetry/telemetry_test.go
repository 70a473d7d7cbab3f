package telemetry

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

func TestSlogHandler_WritesThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewSlogHandler(slog.NewTextHandler(&buf, nil), "test"))

	logger.With("account", "home").WithGroup("sync").Info("sync complete", "inserted", 3)

	out := buf.String()
	for _, want := range []string{"sync complete", "account=home", "sync.inserted=3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestSlogHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewSlogHandler(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}), "test")
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Info should be disabled below Warn")
	}
}

func TestConvertAttr(t *testing.T) {
	kvs := convertAttr("sync.", slog.Group("feed", slog.String("name", "A"), slog.Int("items", 2)))
	if len(kvs) != 2 {
		t.Fatalf("len = %d, want 2", len(kvs))
	}
	if kvs[0].Key != "sync.feed.name" || kvs[0].Value.AsString() != "A" {
		t.Errorf("kvs[0] = %v", kvs[0])
	}
	if kvs[1].Key != "sync.feed.items" || kvs[1].Value.AsInt64() != 2 {
		t.Errorf("kvs[1] = %v", kvs[1])
	}

	d := convertAttr("", slog.Duration("took", 1500*time.Millisecond))
	if d[0].Value.Kind() != otellog.KindString || d[0].Value.AsString() != "1.5s" {
		t.Errorf("duration = %v", d[0])
	}
	if convertAttr("", slog.Attr{}) != nil {
		t.Error("empty attr should be dropped")
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError + 4, otellog.SeverityError},
	}
	for _, tt := range tests {
		if got := severity(tt.level); got != tt.want {
			t.Errorf("severity(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource(Config{ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var name, version string
	for _, kv := range res.Attributes() {
		switch kv.Key {
		case "service.name":
			name = kv.Value.AsString()
		case "service.version":
			version = kv.Value.AsString()
		}
	}
	if name != DefaultServiceName {
		t.Errorf("service.name = %q, want %q", name, DefaultServiceName)
	}
	if version != "1.2.3" {
		t.Errorf("service.version = %q, want 1.2.3", version)
	}
}
