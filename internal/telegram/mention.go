package telegram

import (
	"unicode/utf16"

	tele "gopkg.in/telebot.v4"
)

// buildMention prepends a mention token for exactly one user and returns the
// message text plus its entity list. Entity offsets are in UTF-16 code units,
// per the Telegram API.
func buildMention(label string, userID int64, body string) (string, tele.Entities) {
	if label == "" {
		label = "requester"
	}
	text := label + " " + body
	ent := tele.MessageEntity{
		Type:   tele.EntityTMention,
		Offset: 0,
		Length: utf16Len(label),
		User:   &tele.User{ID: userID},
	}
	return text, tele.Entities{ent}
}

func utf16Len(s string) int {
	return len(utf16.Encode([]rune(s)))
}
