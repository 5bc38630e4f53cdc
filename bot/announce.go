package bot

import (
	"context"
	"fmt"

	"telegram-pairing-bot/engine"

	"github.com/rs/zerolog/log"
)

// Announce posts a recorded round to its group chat
func (b *Bot) Announce(ctx context.Context, result engine.RoundResult) error {
	if result.Empty() {
		return nil
	}

	if err := b.send(ctx, result.ChatID, announcementText(result, b.loc)); err != nil {
		log.Error().Err(err).Int64("chat_id", result.ChatID).Str("period", result.Period).
			Msg("bot: Failed to announce round")
		return fmt.Errorf("failed to announce round: %w", err)
	}

	log.Info().Int64("chat_id", result.ChatID).Str("period", result.Period).
		Int("pairs", len(result.Pairing.Pairs)).Msg("bot: Round announced")
	return nil
}
