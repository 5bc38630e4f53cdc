package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telegram-pairing-bot/admin"
	"telegram-pairing-bot/bot"
	"telegram-pairing-bot/config"
	"telegram-pairing-bot/engine"
	"telegram-pairing-bot/lock"
	"telegram-pairing-bot/metrics"
	"telegram-pairing-bot/scheduler"
	"telegram-pairing-bot/storage"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	// Parse command-line flags
	verbose := flag.Bool("v", false, "Enable verbose logging (info)")
	veryVerbose := flag.Bool("vv", false, "Enable very verbose logging (debug)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("main: Failed to load configuration")
	}

	setupLogging(cfg.LogLevel, cfg.LogFormat, *verbose, *veryVerbose)

	log.Debug().Bool("verbose", *verbose).Bool("very_verbose", *veryVerbose).Msg("main: Command-line flags parsed")

	if err := run(cfg, *veryVerbose); err != nil {
		log.Fatal().Err(err).Msg("main: Bot stopped with error")
	}
	log.Info().Msg("main: Bot stopped")
}

func run(cfg *config.Config, debug bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("failed to load time zone: %w", err)
	}
	hour, minute := cfg.Clock()
	schedule, err := scheduler.NewSchedule(cfg.Weekday(), hour, minute, loc)
	if err != nil {
		return err
	}

	// Initialize storage
	log.Debug().Str("db_path", cfg.DatabasePath).Msg("main: Initializing storage")
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("main: Failed to close storage")
		}
	}()

	locker, closeLocker, err := newLocker(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize locks: %w", err)
	}
	defer closeLocker()

	eng := engine.New(store, locker, engine.WithMaxShuffles(cfg.PairingMaxShuffles))

	// Initialize bot
	b, err := bot.New(cfg.TelegramToken, eng, schedule, bot.Options{
		SendRate: cfg.SendRate,
		Debug:    debug,
		Location: loc,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize bot: %w", err)
	}

	job := scheduler.NewWeeklyJob(eng, b, loc, cfg.PairingParallelism)
	sched := scheduler.New(schedule, job)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	metrics.MustRegister()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.AdminAddr != "" {
		srv := admin.NewServer(cfg.AdminAddr, job)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	log.Info().Str("schedule", schedule.String()).Msg("main: Starting bot...")
	g.Go(func() error {
		return b.Run(gctx)
	})

	return g.Wait()
}

// newLocker picks Redis locks when REDIS_URL is set so several instances can
// share one database, in-process locks otherwise.
func newLocker(ctx context.Context, cfg *config.Config) (lock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		log.Debug().Msg("main: Using in-process group locks")
		return lock.NewMemoryLocker(), func() {}, nil
	}

	cli, err := lock.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Dur("ttl", cfg.LockTTL).Msg("main: Using Redis group locks")

	return lock.NewRedisLocker(cli, cfg.LockTTL), func() {
		if err := cli.Close(); err != nil {
			log.Warn().Err(err).Msg("main: Failed to close Redis client")
		}
	}, nil
}

// setupLogging configures the global logger. The -v and -vv flags take
// precedence over LOG_LEVEL.
func setupLogging(level, format string, verbose, veryVerbose bool) {
	logLevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		logLevel = zerolog.WarnLevel
	}
	if veryVerbose {
		logLevel = zerolog.DebugLevel
	} else if verbose {
		logLevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(logLevel)

	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	log.Debug().Str("level", logLevel.String()).Msg("main: Log level set to")
}
