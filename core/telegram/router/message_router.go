package router

import (
	"time"

	tg "github.com/m3rciful/charmbot/core/telegram"
	"github.com/m3rciful/charmbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// TextOptions controls fallback behaviour for text and media updates.
type TextOptions struct {
	UnknownText tele.HandlerFunc
	// Media handles photo/voice/video updates. When nil they are dropped.
	Media tele.HandlerFunc
}

// TextRoutes builds handlers for plain text and inbound media routing.
// Text resolves through the registry first (commands typed as text), then the
// registered text fallback which carries the conversation flow.
func TextRoutes(reg *tg.Registry, opts TextOptions) []tg.Route {
	handler := func(c tele.Context) error {
		start := time.Now()
		text := c.Text()

		if reg != nil {
			if key, cmd, ok := reg.LookupCommand(text); ok && cmd.Handler != nil {
				name := normalizeHandlerName(key)
				return handleWithSummary(c, name, start, "", "", func() error {
					return cmd.Handler(c)
				})
			}
		}

		if reg != nil {
			if fb := reg.TextFallback(); fb != nil {
				return handleWithSummary(c, "conversation", start, "", "", func() error {
					return fb(c)
				})
			}
		}

		if opts.UnknownText != nil {
			return handleWithSummary(c, "unknown_text", start, "", "", func() error {
				return opts.UnknownText(c)
			})
		}

		logHandlerSummary(c, "unknown_text", start, "skip", "ok", nil)
		return nil
	}

	mediaHandler := func(c tele.Context) error {
		start := time.Now()
		if opts.Media != nil {
			return handleWithSummary(c, "media", start, "", "", func() error {
				return opts.Media(c)
			})
		}
		logHandlerSummary(c, "media", start, "skip", "ok", nil)
		return nil
	}

	wrap := func(h tele.HandlerFunc) tele.HandlerFunc {
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}

	routes := []tg.Route{
		{Endpoint: tele.OnText, Handler: wrap(handler)},
	}
	for _, endpoint := range []string{tele.OnPhoto, tele.OnVoice, tele.OnVideo, tele.OnVideoNote} {
		routes = append(routes, tg.Route{Endpoint: endpoint, Handler: wrap(mediaHandler)})
	}
	return routes
}
