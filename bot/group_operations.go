package bot

import (
	"telegram-pairing-bot/metrics"

	t "github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	"github.com/rs/zerolog/log"
)

func (b *Bot) startHandler(ctx *th.Context, update t.Update) error {
	msg := update.Message
	metrics.IncCommand("start", "ok")
	b.sendMessage(ctx, msg.Chat.ID, startText(msg.Chat.Type == t.ChatTypePrivate, b.nextPairing()))
	return nil
}

func (b *Bot) helpHandler(ctx *th.Context, update t.Update) error {
	msg := update.Message
	metrics.IncCommand("help", "ok")
	b.sendMessage(ctx, msg.Chat.ID, helpText())
	return nil
}

// pairmeHandler adds the sender to the weekly pairing of the group
func (b *Bot) pairmeHandler(ctx *th.Context, update t.Update) error {
	msg := update.Message
	if !b.groupOnly(ctx, msg, "pairme") {
		return nil
	}

	user := profile(msg.From)
	outcome, err := b.engine.Join(ctx, chatOf(msg.Chat), user)
	if err != nil {
		b.replyFailure(ctx, msg, "pairme", err)
		return nil
	}

	metrics.IncCommand("pairme", "ok")
	b.sendMessage(ctx, msg.Chat.ID, joinText(displayName(user), outcome, b.nextPairing()))
	return nil
}

// leaveHandler removes the sender from the weekly pairing of the group
func (b *Bot) leaveHandler(ctx *th.Context, update t.Update) error {
	msg := update.Message
	if !b.groupOnly(ctx, msg, "leave") {
		return nil
	}

	user := profile(msg.From)
	outcome, err := b.engine.Leave(ctx, chatOf(msg.Chat), user.ID)
	if err != nil {
		b.replyFailure(ctx, msg, "leave", err)
		return nil
	}

	metrics.IncCommand("leave", "ok")
	b.sendMessage(ctx, msg.Chat.ID, leaveText(displayName(user), outcome))
	return nil
}

func (b *Bot) statusHandler(ctx *th.Context, update t.Update) error {
	msg := update.Message
	if !b.groupOnly(ctx, msg, "status") {
		return nil
	}

	snapshot, err := b.engine.Status(ctx, msg.Chat.ID)
	if err != nil {
		b.replyFailure(ctx, msg, "status", err)
		return nil
	}

	metrics.IncCommand("status", "ok")
	b.sendMessage(ctx, msg.Chat.ID, statusText(snapshot, b.nextPairing()))
	return nil
}

func (b *Bot) mypairHandler(ctx *th.Context, update t.Update) error {
	msg := update.Message
	if !b.groupOnly(ctx, msg, "mypair") {
		return nil
	}

	user := profile(msg.From)
	status, err := b.engine.MyPair(ctx, msg.Chat.ID, user.ID)
	if err != nil {
		b.replyFailure(ctx, msg, "mypair", err)
		return nil
	}

	metrics.IncCommand("mypair", "ok")
	b.sendMessage(ctx, msg.Chat.ID, myPairText(displayName(user), status, b.nextPairing(), b.loc))
	return nil
}

// groupOnly rejects roster commands sent outside of a group chat
func (b *Bot) groupOnly(ctx *th.Context, msg *t.Message, command string) bool {
	if msg.From == nil {
		metrics.IncCommand(command, "rejected")
		return false
	}
	if msg.Chat.Type == t.ChatTypePrivate || msg.Chat.Type == t.ChatTypeChannel {
		metrics.IncCommand(command, "rejected")
		b.sendMessage(ctx, msg.Chat.ID, escapeMarkdownV2(privateOnlyText))
		return false
	}
	return true
}

func (b *Bot) replyFailure(ctx *th.Context, msg *t.Message, command string, err error) {
	metrics.IncCommand(command, "error")
	log.Error().Err(err).Str("command", command).Int64("chat_id", msg.Chat.ID).
		Int64("user_id", msg.From.ID).Msg("bot: Command failed")
	b.sendMessage(ctx, msg.Chat.ID, escapeMarkdownV2(failureText))
}
