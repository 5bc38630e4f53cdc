package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"telegram-pairing-bot/engine"
	"telegram-pairing-bot/storage"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrGetMe          = errors.New("cannot retrieve api user")
	ErrUpdatesChannel = errors.New("cannot get updates channel")
	ErrHandlerInit    = errors.New("cannot initialize handler")
)

// Engine runs the roster commands
type Engine interface {
	Join(ctx context.Context, chat engine.Chat, user storage.UserProfile) (engine.JoinOutcome, error)
	Leave(ctx context.Context, chat engine.Chat, userID int64) (engine.LeaveOutcome, error)
	Status(ctx context.Context, chatID int64) (engine.Snapshot, error)
	MyPair(ctx context.Context, chatID, userID int64) (engine.PairStatus, error)
}

// Schedule tells when the next pairing happens
type Schedule interface {
	Next(t time.Time) time.Time
}

type Options struct {
	// SendRate is the number of outgoing messages allowed per second
	SendRate float64
	Debug    bool
	// Location is used for dates in replies
	Location *time.Location
	// APIServer overrides the Telegram Bot API URL
	APIServer string
}

type Bot struct {
	bot      *telego.Bot
	engine   Engine
	schedule Schedule
	limiter  *rate.Limiter
	loc      *time.Location
}

func New(token string, engine Engine, schedule Schedule, opts Options) (*Bot, error) {
	botOpts := []telego.BotOption{telego.WithDiscardLogger()}
	if opts.Debug {
		botOpts = []telego.BotOption{telego.WithDefaultDebugLogger()}
	}
	if opts.APIServer != "" {
		botOpts = append(botOpts, telego.WithAPIServer(opts.APIServer))
	}

	api, err := telego.NewBot(token, botOpts...)
	if err != nil {
		log.Error().Err(err).Msg("bot: Failed to create bot")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	sendRate := opts.SendRate
	if sendRate <= 0 {
		sendRate = 20
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	return &Bot{
		bot:      api,
		engine:   engine,
		schedule: schedule,
		limiter:  rate.NewLimiter(rate.Limit(sendRate), 1),
		loc:      loc,
	}, nil
}

// Run handles updates until ctx is done
func (b *Bot) Run(ctx context.Context) error {
	botUser, err := b.bot.GetMe(ctx)
	if err != nil {
		log.Error().Err(err).Msg("bot: Cannot retrieve api user")
		return fmt.Errorf("%w: %w", ErrGetMe, err)
	}

	log.Info().Int64("id", botUser.ID).Str("username", botUser.Username).
		Str("name", botUser.FirstName).Msg("bot: Running as")

	updates, err := b.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		log.Error().Err(err).Msg("bot: Cannot get update channel")
		return fmt.Errorf("%w: %w", ErrUpdatesChannel, err)
	}

	bh, err := th.NewBotHandler(b.bot, updates)
	if err != nil {
		log.Error().Err(err).Msg("bot: Cannot initialize bot handler")
		return fmt.Errorf("%w: %w", ErrHandlerInit, err)
	}

	bh.Use(b.updateLogMiddleware)

	bh.Handle(b.startHandler, th.CommandEqual("start"))
	bh.Handle(b.pairmeHandler, th.CommandEqual("pairme"))
	bh.Handle(b.statusHandler, th.CommandEqual("status"))
	bh.Handle(b.mypairHandler, th.CommandEqual("mypair"))
	bh.Handle(b.leaveHandler, th.CommandEqual("leave"))
	bh.Handle(b.helpHandler, th.AnyCommand())

	go func() {
		<-ctx.Done()
		if err := bh.Stop(); err != nil {
			log.Warn().Err(err).Msg("bot: Failed to stop bot handler")
		}
	}()

	return bh.Start()
}

func (b *Bot) nextPairing() time.Time {
	return b.schedule.Next(time.Now())
}
