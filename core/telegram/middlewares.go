package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/charmbot/core/config"
	"github.com/m3rciful/charmbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

func rateLimitOptions(cfg *coreconfig.Config, onLimited func(tele.Context) error) (middleware.RateLimitOptions, bool) {
	if cfg == nil {
		return middleware.RateLimitOptions{}, false
	}
	interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
	if interval <= 0 {
		return middleware.RateLimitOptions{}, false
	}
	exclude := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
	for _, kind := range cfg.RateLimit.ExcludeUpdates {
		exclude[strings.ToLower(kind)] = struct{}{}
	}
	return middleware.RateLimitOptions{
		Interval:  interval,
		Exclude:   exclude,
		OnLimited: onLimited,
	}, true
}

// DefaultMiddlewares builds the shared middleware chain for the bot.
// Recover runs outermost; rate limiting (when configured) sits before
// logging so throttled updates never reach the per-update log line.
func DefaultMiddlewares(cfg *coreconfig.Config, onLimited func(tele.Context) error) []Middleware {
	chain := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}
	if opts, ok := rateLimitOptions(cfg, onLimited); ok {
		chain = append(chain, Middleware{Name: "rate_limit", Use: middleware.RateLimitMiddleware(opts)})
	}
	return append(chain,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
		Middleware{Name: "metrics", Use: middleware.MessageMetricsMiddleware},
	)
}
