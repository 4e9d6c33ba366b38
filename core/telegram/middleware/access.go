package middleware

import tele "gopkg.in/telebot.v4"

// AdminOptions configures the admin-only guard. A zero AdminID disables
// the check entirely.
type AdminOptions struct {
	AdminID  int64
	OnReject tele.HandlerFunc
}

// AdminOnlyMiddleware drops updates from everyone but the configured
// admin. Rejected callers get OnReject when set, silence otherwise.
func AdminOnlyMiddleware(opts AdminOptions) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if opts.AdminID == 0 || c.Sender().ID == opts.AdminID {
				return next(c)
			}
			if opts.OnReject != nil {
				return opts.OnReject(c)
			}
			return nil
		}
	}
}
