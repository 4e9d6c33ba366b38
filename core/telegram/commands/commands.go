// Package commands declares the metadata the registry keeps per bot
// command.
package commands

import (
	tele "gopkg.in/telebot.v4"
)

// Command couples a handler with its menu description and visibility.
// AdminOnly commands are guarded by the admin middleware and, like
// Hidden ones, stay out of the Telegram command menu.
type Command struct {
	Handler     tele.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
}
