package middleware

import (
	"log/slog"
	"runtime/debug"

	"github.com/m3rciful/charmbot/core/logger"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware keeps a panicking handler from taking the poller
// down; the panic is logged with its stack and the update is dropped.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(logger.Background(), "tg", "panic",
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		return next(c)
	}
}
