package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for line := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func TestSlog_ContextFieldsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Component: "fetcher"}, &buf)
	log := NewSlog(&zl)

	ctx := WithRefreshID(WithLayer(WithRequestID(context.Background(), "req-1"), "qld"), "r-9")
	log.With("tiles", 4).InfoContext(ctx, "tiles loaded", "hits", 3, "ratio", 0.75, "ok", true)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("lines=%d want 1", len(lines))
	}
	m := lines[0]
	want := map[string]any{
		"msg": "tiles loaded", "level": "info", "component": "fetcher",
		"request_id": "req-1", "layer": "qld", "refresh_id": "r-9",
		"tiles": 4.0, "hits": 3.0, "ratio": 0.75, "ok": true,
	}
	for k, v := range want {
		if m[k] != v {
			t.Fatalf("field %s=%v want %v (line %v)", k, m[k], v, m)
		}
	}
	if _, ok := m["timestamp"]; !ok {
		t.Fatal("missing timestamp")
	}
}

func TestBuild_LevelFiltering(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	zl := Build(Config{Level: "warn"}, &buf)
	log := NewSlog(&zl)
	log.Info("dropped")
	log.Warn("kept")
	log.Error("also kept")

	lines := decodeLines(t, &buf)
	if len(lines) != 2 || lines[0]["level"] != "warn" || lines[1]["level"] != "error" {
		t.Fatalf("unexpected lines %v", lines)
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	if RequestID(ctx) == "" {
		t.Fatal("expected generated request id")
	}
	if RefreshID(context.Background()) != "" {
		t.Fatal("refresh id should be empty on bare context")
	}
	if WithLayer(context.Background(), "") != context.Background() {
		t.Fatal("empty layer should return ctx unchanged")
	}
}
