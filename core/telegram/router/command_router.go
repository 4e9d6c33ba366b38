package router

import (
	"log/slog"

	"github.com/m3rciful/charmbot/core/logger"
	tg "github.com/m3rciful/charmbot/core/telegram"
	"github.com/m3rciful/charmbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes prepares command handlers wrapped with shared middleware.
// Admin-only commands get the access check innermost so rejections are
// still logged and recovered like any other handler outcome.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminGate := middleware.AdminOnlyMiddleware(middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	})
	wrap := func(h tele.HandlerFunc, adminOnly bool) tele.HandlerFunc {
		if adminOnly {
			h = adminGate(h)
		}
		return middleware.RecoverMiddleware(middleware.LoggerMiddleware(h))
	}

	cmds := reg.Commands()
	routes := make([]tg.Route, 0, len(cmds))
	for cmd, def := range cmds {
		routes = append(routes, tg.Route{
			Endpoint: cmd,
			Handler:  wrap(def.Handler, def.AdminOnly),
		})
	}

	logger.Info(logger.Background(), "tg.wire", "complete",
		slog.Int("commands", len(cmds)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)
	return routes
}
