package middleware

import (
	tele "gopkg.in/telebot.v4"
)

// metricsContext counts outbound messages per update so the routing
// summary can report how chatty a handler was and whether it attached a
// keyboard (the paywall always does).
type metricsContext struct{ tele.Context }

// record bumps the counters after a successful outbound call.
func (m metricsContext) record(err error, opts []interface{}) error {
	if err != nil {
		return err
	}
	n := 0
	if v, ok := m.Get("messages").(int); ok {
		n = v
	}
	m.Set("messages", n+1)
	if withKeyboard(opts) {
		m.Set("kb", true)
	}
	return nil
}

func withKeyboard(opts []interface{}) bool {
	for _, o := range opts {
		switch v := o.(type) {
		case *tele.SendOptions:
			if v != nil && v.ReplyMarkup != nil {
				return true
			}
		case *tele.ReplyMarkup:
			if v != nil {
				return true
			}
		}
	}
	return false
}

func (m metricsContext) Send(what interface{}, opts ...interface{}) error {
	return m.record(m.Context.Send(what, opts...), opts)
}

func (m metricsContext) Reply(what interface{}, opts ...interface{}) error {
	return m.record(m.Context.Reply(what, opts...), opts)
}

// Edits count as responses too.
func (m metricsContext) Edit(what interface{}, opts ...interface{}) error {
	return m.record(m.Context.Edit(what, opts...), opts)
}

func (m metricsContext) EditOrSend(what interface{}, opts ...interface{}) error {
	return m.record(m.Context.EditOrSend(what, opts...), opts)
}

// MessageMetricsMiddleware wraps the context so outbound calls are counted.
func MessageMetricsMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		c.Set("messages", 0)
		c.Set("kb", false)
		return next(metricsContext{Context: c})
	}
}

// GetCounters reads the message count and keyboard flag back out.
func GetCounters(c tele.Context) (int, bool) {
	msgs, _ := c.Get("messages").(int)
	kb, _ := c.Get("kb").(bool)
	return msgs, kb
}
