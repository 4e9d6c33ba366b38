// Package keyboard builds the inline markups the bot sends: the plan
// picker on the paywall and the hosted payment link.
package keyboard

import tele "gopkg.in/telebot.v4"

// InlineBtn describes one inline data button.
type InlineBtn struct {
	Text   string
	Unique string
	Data   string
}

// InlineButtons places each button on its own row; the paywall plan
// picker reads better as a vertical list.
func InlineButtons(buttons []InlineBtn) *tele.ReplyMarkup {
	rows := make([][]InlineBtn, len(buttons))
	for i, b := range buttons {
		rows[i] = []InlineBtn{b}
	}
	return InlineButtonsRows(rows...)
}

// InlineButtonsRows builds an inline keyboard from explicit rows.
func InlineButtonsRows(rows ...[]InlineBtn) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	inline := make([][]tele.InlineButton, len(rows))
	for i, row := range rows {
		r := make([]tele.InlineButton, len(row))
		for j, btn := range row {
			r[j] = *markup.Data(btn.Text, btn.Unique, btn.Data).Inline()
		}
		inline[i] = r
	}
	markup.InlineKeyboard = inline
	return markup
}

// URLButton builds a single-row markup opening an external link.
func URLButton(text, url string) *tele.ReplyMarkup {
	markup := &tele.ReplyMarkup{}
	markup.Inline(markup.Row(markup.URL(text, url)))
	return markup
}

// RemoveKeyboard hides any visible reply keyboard.
func RemoveKeyboard() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}
