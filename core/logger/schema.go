package logger

import "strings"

const (
	// LevelDebug is the canonical debug level name.
	LevelDebug = "DEBUG"
	// LevelInfo is the canonical info level name.
	LevelInfo = "INFO"
	// LevelWarn is the canonical warning level name.
	LevelWarn = "WARN"
	// LevelError is the canonical error level name.
	LevelError = "ERROR"
	// LevelFatal is the canonical fatal level name.
	LevelFatal = "FATAL"
)

func normalizeLevel(level string) string {
	switch strings.ToLower(level) {
	case "":
		return LevelInfo
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "fatal":
		return LevelFatal
	}
	return strings.ToUpper(level)
}

// status covers the per-operation result; outcome is the subset used by
// the routing summaries.
var knownStatus = map[string]struct{}{
	"ok": {}, "fail": {}, "skip": {}, "retry": {},
	"rate_limited": {}, "cancelled": {}, "dropped": {}, "duplicate": {},
}

var knownOutcome = map[string]struct{}{
	"ok": {}, "fail": {}, "cancelled": {},
	"rate_limited": {}, "dropped": {}, "duplicate": {},
}

func normalizeStatus(status string) (string, bool) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status == "" {
		return "", false
	}
	_, ok := knownStatus[status]
	return status, ok
}

func normalizeOutcome(outcome string) (string, bool) {
	outcome = strings.ToLower(strings.TrimSpace(outcome))
	if outcome == "" {
		return "", false
	}
	if _, ok := knownOutcome[outcome]; ok {
		return outcome, true
	}
	return "", false
}

// defaultKeyOrder pins the line prefix: timing and identity first, then
// the payment and gate correlation keys, error details last.
var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"chat_type",
	"handler",
	"session_state",
	"outcome",
	"duration_ms",
	"messages",
	"kb",
	"plan_id",
	"payment_id",
	"order_id",
	"preference_id",
	"checkout_id",
	"payment_status",
	"external_reference",
	"amount",
	"expires_at",
	"message_count",
	"escalation",
	"pending_count",
	"swept",
	"payload",
	"lang",
	"username",
	"mode",
	"listen",
	"public_url",
	"http_code",
	"db",
	"host",
	"port",
	"err",
	"err_code",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
	"rate_limited",
}
