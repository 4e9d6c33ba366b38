package logger

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestHandler(buf *bytes.Buffer, format wireFormat) (*recordHandler, *lineWriter) {
	lw := newLineWriter([]io.Writer{buf}, 1024)
	h := newRecordHandler(slog.LevelInfo, lw, format, append([]string(nil), defaultKeyOrder...))
	return h, lw
}

func drain(t *testing.T, lw *lineWriter) {
	t.Helper()
	if err := lw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := lw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestHandlerKVKeyOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	h, lw := newTestHandler(buf, wireKV)

	ctx := WithRID(Background(), "rid-123")
	ctx = WithUpdateMeta(ctx, 42, 7, 9)

	log := slog.New(h).With("component", "payments")
	LogEvent(ctx, log, slog.LevelInfo, "grant.applied",
		slog.String("status", "ok"),
		slog.String("plan_id", "p12h"),
	)
	drain(t, lw)

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected a log line")
	}
	tokens := strings.Split(line, " ")
	expected := []string{"ts=", "level=INFO", "component=payments", "event=grant.applied", "status=ok", "rid=rid-123"}
	if len(tokens) < len(expected) {
		t.Fatalf("token count %d too small: %s", len(tokens), line)
	}
	for i, prefix := range expected {
		if !strings.HasPrefix(tokens[i], prefix) {
			t.Fatalf("token %d = %s, expected prefix %s", i, tokens[i], prefix)
		}
	}
	if !strings.Contains(line, "plan_id=p12h") {
		t.Fatalf("plan_id missing: %s", line)
	}
}

func TestHandlerJSONKeyOrder(t *testing.T) {
	buf := &bytes.Buffer{}
	h, lw := newTestHandler(buf, wireJSON)

	ctx := WithRID(Background(), "rid-json")
	ctx = WithUpdateMeta(ctx, 11, 22, 33)

	log := slog.New(h).With("component", "payments.webhook")
	LogEvent(ctx, log, slog.LevelError, "reconcile.dropped",
		slog.String("status", "fail"),
		slog.String("err", "provider timeout"),
		slog.String("err_code", "PROVIDER_TIMEOUT"),
	)
	drain(t, lw)

	line := strings.TrimSpace(buf.String())
	if !strings.HasPrefix(line, "{") {
		t.Fatalf("expected JSON, got %s", line)
	}
	ordered := []string{`{"ts":`, `"level":"ERROR"`, `"component":"payments.webhook"`, `"event":"reconcile.dropped"`, `"status":"fail"`, `"rid":"rid-json"`}
	pos := -1
	for _, fragment := range ordered {
		idx := strings.Index(line, fragment)
		if idx == -1 || idx < pos {
			t.Fatalf("fragment %s out of order in %s", fragment, line)
		}
		pos = idx
	}
	if !strings.Contains(line, `"ts_unix_nano"`) {
		t.Fatalf("ts_unix_nano missing from JSON output: %s", line)
	}
}

func TestHandlerCompactsNumericRID(t *testing.T) {
	buf := &bytes.Buffer{}
	h, lw := newTestHandler(buf, wireKV)

	raw := "123:456:789"
	ctx := WithRID(Background(), raw)
	log := slog.New(h).With("component", "gate")
	LogEvent(ctx, log, slog.LevelInfo, "decision",
		slog.String("status", "ok"),
	)
	drain(t, lw)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, "rid="+CompactRID(raw)) {
		t.Fatalf("expected compact rid in %s", line)
	}
	if strings.Contains(line, "rid_full=") {
		t.Fatalf("kv output must not carry rid_full: %s", line)
	}
}

func TestHandlerKeepsFullRIDInJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	h, lw := newTestHandler(buf, wireJSON)

	raw := "12:34:56"
	ctx := WithRID(Background(), raw)
	log := slog.New(h).With("component", "gate")
	LogEvent(ctx, log, slog.LevelInfo, "decision",
		slog.String("status", "ok"),
	)
	drain(t, lw)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, `"rid":"`+CompactRID(raw)+`"`) {
		t.Fatalf("expected compact rid in %s", line)
	}
	if !strings.Contains(line, `"rid_full":"`+raw+`"`) {
		t.Fatalf("expected rid_full alongside compact rid: %s", line)
	}
}

func TestHandlerNormalizesDurations(t *testing.T) {
	buf := &bytes.Buffer{}
	h, lw := newTestHandler(buf, wireKV)

	log := slog.New(h).With("component", "payments")
	LogEvent(Background(), log, slog.LevelInfo, "checkout.created",
		slog.Duration("duration", 1499*time.Microsecond),
		slog.Duration("backoff", 2*time.Second),
	)
	drain(t, lw)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, "duration_ms=1") {
		t.Fatalf("duration must land as whole milliseconds: %s", line)
	}
	if !strings.Contains(line, "backoff_ms=2000") {
		t.Fatalf("plain duration keys get an _ms suffix: %s", line)
	}
}

func TestHandlerDropsEmptyFields(t *testing.T) {
	buf := &bytes.Buffer{}
	h, lw := newTestHandler(buf, wireKV)

	log := slog.New(h)
	LogEvent(Background(), log, slog.LevelInfo, "sweep.done",
		slog.String("err", ""),
		slog.Int("swept", 0),
	)
	drain(t, lw)

	line := strings.TrimSpace(buf.String())
	if strings.Contains(line, "err=") {
		t.Fatalf("empty strings must be pruned: %s", line)
	}
	if !strings.Contains(line, "swept=0") {
		t.Fatalf("zero integers are kept: %s", line)
	}
	if !strings.Contains(line, "component=app") {
		t.Fatalf("component defaults to app: %s", line)
	}
}
