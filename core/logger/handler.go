package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

type wireFormat string

const (
	wireJSON wireFormat = "json"
	wireKV   wireFormat = "kv"

	tsLayout = "2006-01-02T15:04:05.000Z07:00"
)

// recordHandler renders slog records as single lines with a stable key
// prefix order, so grep and log tailing stay predictable across the
// whole bot (checkout, webhook, gate and janitor components alike).
type recordHandler struct {
	level    slog.Leveler
	out      *lineWriter
	format   wireFormat
	keyOrder []string

	bound  []slog.Attr
	groups []string
}

func newRecordHandler(level slog.Leveler, out *lineWriter, format wireFormat, keyOrder []string) *recordHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	if keyOrder == nil {
		keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &recordHandler{level: level, out: out, format: format, keyOrder: keyOrder}
}

func (h *recordHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *recordHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.out == nil {
		return fmt.Errorf("logger: no output configured")
	}

	fields := make(map[string]any, 16)
	ts := r.Time.UTC()
	fields["ts"] = ts.Truncate(time.Millisecond).Format(tsLayout)
	fields["level"] = normalizeLevel(r.Level.String())
	if h.format == wireJSON {
		fields["ts_unix_nano"] = ts.UnixNano()
	}

	for _, a := range h.bound {
		h.put(fields, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.put(fields, a)
		return true
	})
	fillFromContext(ctx, fields)

	h.compactRIDField(fields)

	if event, _ := asString(fields["event"]); event == "" {
		if r.Message != "" {
			fields["event"] = r.Message
		} else {
			fields["event"] = "unknown"
		}
	}
	if component, _ := asString(fields["component"]); component == "" {
		fields["component"] = "app"
	}

	cleanEnums(fields)
	dropEmpty(fields)

	line, err := h.render(fields)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	return h.out.Write(line)
}

func (h *recordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.bound = append(append([]slog.Attr(nil), h.bound...), attrs...)
	return &clone
}

func (h *recordHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// put flattens the attr (groups become dotted prefixes) and stores the
// normalized key/value pair.
func (h *recordHandler) put(fields map[string]any, attr slog.Attr) {
	prefix := strings.Join(h.groups, ".")
	var walk func(prefix string, a slog.Attr)
	walk = func(prefix string, a slog.Attr) {
		key := a.Key
		if key == "" {
			key = prefix
		} else if prefix != "" {
			key = prefix + "." + key
		}
		if a.Value.Kind() == slog.KindGroup {
			for _, child := range a.Value.Group() {
				walk(key, child)
			}
			return
		}
		if key == "" {
			return
		}
		k, v, ok := coerceValue(key, a.Value)
		if ok {
			fields[k] = v
		}
	}
	walk(prefix, attr)
}

// compactRIDField shortens the rid for readability; JSON output keeps the
// full form alongside for machine correlation.
func (h *recordHandler) compactRIDField(fields map[string]any) {
	rid, ok := asString(fields["rid"])
	if !ok || rid == "" {
		return
	}
	compact := CompactRID(rid)
	if compact == "" || compact == rid {
		return
	}
	if h.format == wireJSON {
		if _, seen := fields["rid_full"]; !seen {
			fields["rid_full"] = rid
		}
	}
	fields["rid"] = compact
}

func (h *recordHandler) render(fields map[string]any) ([]byte, error) {
	if h.format == wireJSON {
		return renderJSON(fields, h.keyOrder)
	}
	return renderKV(fields, h.keyOrder), nil
}

// coerceValue maps slog values onto the small set of primitives the line
// formats carry. Durations always land as integer milliseconds under a
// *_ms key.
func coerceValue(key string, val slog.Value) (string, any, bool) {
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		u := val.Uint64()
		if u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, u, true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return msKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	case slog.KindAny:
		switch x := val.Any().(type) {
		case error:
			return key, x.Error(), true
		case string:
			return key, strings.TrimSpace(x), true
		case time.Duration:
			return msKey(key), RoundMS(x).Milliseconds(), true
		case fmt.Stringer:
			return key, x.String(), true
		case nil:
			return key, nil, false
		default:
			return key, fmt.Sprint(x), true
		}
	default:
		return key, val.Any(), true
	}
}

func msKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_duration"):
		return strings.TrimSuffix(key, "_duration") + "_duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}

func cleanEnums(fields map[string]any) {
	if level, ok := asString(fields["level"]); ok {
		fields["level"] = normalizeLevel(level)
	}
	if s, ok := asString(fields["status"]); ok && s != "" {
		if normalized, valid := normalizeStatus(s); valid {
			fields["status"] = normalized
		}
	}
	if o, ok := asString(fields["outcome"]); ok && o != "" {
		normalized, valid := normalizeOutcome(o)
		if valid {
			fields["outcome"] = normalized
		} else {
			delete(fields, "outcome")
		}
	}
}

func dropEmpty(fields map[string]any) {
	for k, v := range fields {
		switch val := v.(type) {
		case string:
			if val == "" {
				delete(fields, k)
			}
		case fmt.Stringer:
			if val.String() == "" {
				delete(fields, k)
			}
		case nil:
			delete(fields, k)
		}
	}
}

func renderJSON(fields map[string]any, order []string) ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	n := 0
	write := func(k string) error {
		data, err := json.Marshal(fields[k])
		if err != nil {
			return err
		}
		if n > 0 {
			buf = append(buf, ',')
		}
		n++
		buf = strconv.AppendQuote(buf, k)
		buf = append(buf, ':')
		buf = append(buf, data...)
		return nil
	}
	for _, key := range sortedKeys(fields, order) {
		if err := write(key); err != nil {
			return nil, err
		}
	}
	buf = append(buf, '}')
	return buf, nil
}

func renderKV(fields map[string]any, order []string) []byte {
	buf := make([]byte, 0, 256)
	for i, key := range sortedKeys(fields, order) {
		if i > 0 {
			buf = append(buf, ' ')
		}
		buf = append(buf, key...)
		buf = append(buf, '=')
		buf = append(buf, kvValue(fields[key])...)
	}
	return buf
}

// sortedKeys yields the configured prefix keys first, then the rest
// alphabetically.
func sortedKeys(fields map[string]any, order []string) []string {
	keys := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, key := range order {
		if _, ok := fields[key]; ok {
			keys = append(keys, key)
			seen[key] = struct{}{}
		}
	}
	head := len(keys)
	for key := range fields {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys[head:])
	return keys
}

func kvValue(val any) string {
	var s string
	switch v := val.(type) {
	case string:
		s = v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int, uint64, float64:
		return fmt.Sprint(v)
	default:
		s = fmt.Sprint(v)
	}
	if strings.IndexFunc(s, kvNeedsQuote) >= 0 {
		return strconv.Quote(s)
	}
	return s
}

func kvNeedsQuote(r rune) bool {
	return r <= 32 || r == '=' || r == '"'
}

func asString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprint(val), true
	}
}

// fillFromContext copies correlation metadata placed in the context by
// the update and webhook entry points. Explicit attrs always win.
func fillFromContext(ctx context.Context, fields map[string]any) {
	if ctx == nil {
		return
	}
	setIfAbsent := func(key string, v any) {
		if _, ok := fields[key]; !ok {
			fields[key] = v
		}
	}
	if rid := RIDFrom(ctx); rid != "" {
		setIfAbsent("rid", rid)
	}
	if uid := UserIDFrom(ctx); uid != 0 {
		setIfAbsent("user_id", uid)
	}
	if updateID := UpdateIDFrom(ctx); updateID != 0 {
		setIfAbsent("update_id", updateID)
	}
	if cid := ChatIDFrom(ctx); cid != 0 {
		setIfAbsent("chat_id", cid)
	}
	if hid := HandlerFrom(ctx); hid != "" {
		setIfAbsent("handler", hid)
	}
}
