package bot

import (
	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	"github.com/rs/zerolog/log"
)

func (b *Bot) updateLogMiddleware(ctx *th.Context, update telego.Update) error {
	if msg := update.Message; msg != nil {
		event := log.Debug().Int("update_id", update.UpdateID).
			Int64("chat_id", msg.Chat.ID).Str("chat_type", msg.Chat.Type).Str("text", msg.Text)
		if msg.From != nil {
			event = event.Int64("user_id", msg.From.ID)
		}
		event.Msg("bot: Update received")
	}

	return ctx.Next(update)
}
