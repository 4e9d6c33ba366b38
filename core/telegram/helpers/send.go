package helpers

import (
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/m3rciful/charmbot/core/logger"
	"github.com/m3rciful/charmbot/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var outbox atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
// Pass nil to fall back to synchronous sends.
func SetDispatcher(d *sender.Dispatcher) {
	outbox.Store(d)
}

// SendText sends plain text to the current recipient through the async
// dispatcher. Extra send options (reply markup, parse mode) ride along.
func SendText(c tele.Context, text string, opts ...*tele.SendOptions) error {
	send := func() error {
		if len(opts) > 0 && opts[0] != nil {
			return c.Send(text, opts[0])
		}
		return c.Send(text)
	}

	disp := outbox.Load()
	if disp == nil {
		return send()
	}

	ctx := BuildContext(c)
	err := disp.Enqueue(ctx, "send.text", "sendMessage", send)
	if err == nil {
		return nil
	}

	// A saturated or closed queue degrades to an inline send rather than
	// dropping the reply.
	if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
		logger.Warn(ctx, "tg.sender", "queue.fallback",
			slog.String("action", "send.text"),
			slog.String("err", err.Error()),
		)
		return send()
	}
	return err
}
