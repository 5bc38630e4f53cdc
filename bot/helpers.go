package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"telegram-pairing-bot/engine"
	"telegram-pairing-bot/storage"

	t "github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog/log"
)

var markdownV2Replacer = strings.NewReplacer(
	`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`,
	"|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

func escapeMarkdownV2(text string) string {
	return markdownV2Replacer.Replace(text)
}

func profile(user *t.User) storage.UserProfile {
	return storage.UserProfile{
		ID:        user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

func displayName(user storage.UserProfile) string {
	return storage.Participant{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}.DisplayName()
}

func chatOf(chat t.Chat) engine.Chat {
	return engine.Chat{ID: chat.ID, Title: chat.Title}
}

// retryAfter extracts the wait requested by a 429 response. Errors that lost
// the API error type are matched by text, which reads like
// `telego: sendMessage: api: 429 "Too Many Requests: retry after 5", migrate to chat ID: 0, retry after: 5`.
func retryAfter(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}

	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Parameters == nil || apiErr.Parameters.RetryAfter <= 0 {
			return 0, false
		}
		return time.Duration(apiErr.Parameters.RetryAfter) * time.Second, true
	}

	if !strings.Contains(err.Error(), "Too Many Requests") {
		return 0, false
	}

	parts := strings.Split(err.Error(), "retry after: ")
	if len(parts) != 2 {
		return 0, false
	}

	var seconds int
	if _, _ = fmt.Sscanf(parts[1], "%d", &seconds); seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// send delivers a MarkdownV2 message, waiting for the send limiter first and
// retrying once when Telegram asks to slow down.
func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}

	message := tu.Message(tu.ID(chatID), text)
	message.ParseMode = t.ModeMarkdownV2

	_, err := b.bot.SendMessage(ctx, message)
	if err == nil {
		return nil
	}

	wait, ok := retryAfter(err)
	if !ok {
		return err
	}

	log.Debug().Err(err).Msg("bot: API error")
	log.Info().Dur("wait", wait).Msg("bot: Rate limit hit, waiting")

	select {
	case <-time.After(wait):
	case <-ctx.Done():
		return ctx.Err()
	}

	if _, err = b.bot.SendMessage(ctx, message); err != nil {
		return err
	}
	log.Info().Msg("bot: Message sent successfully after rate limit wait")
	return nil
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	if err := b.send(ctx, chatID, text); err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Int("text_length", len(text)).
			Msg("bot: Failed to send message")
		return
	}
	log.Debug().Int64("chat_id", chatID).Msg("bot: Message sent successfully")
}
