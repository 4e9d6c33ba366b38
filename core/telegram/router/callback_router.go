package router

import (
	"log/slog"
	"time"

	tg "github.com/m3rciful/charmbot/core/telegram"
	"github.com/m3rciful/charmbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CallbackOptions customises fallback behaviour for callbacks.
type CallbackOptions struct {
	NotFound tele.HandlerFunc
}

// resolveCallback picks the registered handler for the key, falling back to
// the registry-level and then option-level not-found handlers.
func resolveCallback(reg *tg.Registry, key string, opts CallbackOptions) (tele.HandlerFunc, bool) {
	if h, ok := reg.GetCallback(key); ok && h != nil {
		return h, true
	}
	if fallback := reg.CallbackNotFound(); fallback != nil {
		return fallback, false
	}
	return opts.NotFound, false
}

// CallbackRoute returns a handler that routes callbacks through the registry.
func CallbackRoute(reg *tg.Registry, opts CallbackOptions) tg.Route {
	handler := func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil {
			return nil
		}
		start := time.Now()

		key, _ := parseCallback(cb)
		name := "callback." + normalizeHandlerName(key)
		extras := []slog.Attr{slog.String("cb_key", key)}

		// Answer the callback query up front so the client spinner stops
		// even when the handler is slow or missing.
		_ = c.Respond()

		target, found := resolveCallback(reg, key, opts)
		if !found {
			extras = append(extras, slog.String("reason", "not_found"))
		}
		return handleWithSummary(c, name, start, "", "", func() error {
			if target == nil {
				return nil
			}
			return target(c)
		}, extras...)
	}

	return tg.Route{
		Endpoint: tele.OnCallback,
		Handler:  middleware.RecoverMiddleware(middleware.LoggerMiddleware(handler)),
	}
}
