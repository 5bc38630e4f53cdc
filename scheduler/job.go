package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"telegram-pairing-bot/engine"
	"telegram-pairing-bot/metrics"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Engine is what the weekly job needs from the pairing engine
type Engine interface {
	Groups(ctx context.Context) ([]int64, error)
	RunRound(ctx context.Context, chatID int64, period string) (engine.RoundResult, error)
	MarkAnnounced(ctx context.Context, roundID uint) error
}

// Announcer posts a round to its chat
type Announcer interface {
	Announce(ctx context.Context, result engine.RoundResult) error
}

// Report summarizes a weekly job run
type Report struct {
	Period           string `json:"period"`
	Groups           int    `json:"groups"`
	Created          int    `json:"created"`
	Announced        int    `json:"announced"`
	AlreadyAnnounced int    `json:"already_announced"`
	Empty            int    `json:"empty"`
	Failed           int    `json:"failed"`
}

type WeeklyJob struct {
	engine      Engine
	announcer   Announcer
	loc         *time.Location
	parallelism int
	now         func() time.Time

	// one run at a time
	mu sync.Mutex
}

func NewWeeklyJob(engine Engine, announcer Announcer, loc *time.Location, parallelism int) *WeeklyJob {
	if parallelism <= 0 {
		parallelism = 1
	}
	if loc == nil {
		loc = time.UTC
	}
	return &WeeklyJob{
		engine:      engine,
		announcer:   announcer,
		loc:         loc,
		parallelism: parallelism,
		now:         time.Now,
	}
}

// Run pairs every group for the current week
func (j *WeeklyJob) Run(ctx context.Context) (Report, error) {
	return j.RunPeriod(ctx, Period(j.now(), j.loc))
}

// RunPeriod pairs every group for the period and announces rounds that were
// not announced yet. Running it again for the same period only retries
// failed groups.
func (j *WeeklyJob) RunPeriod(ctx context.Context, period string) (Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	log.Info().Str("period", period).Msg("scheduler: Starting weekly pairing")

	report := Report{Period: period}

	groups, err := j.engine.Groups(ctx)
	if err != nil {
		metrics.ObserveJob(time.Since(start), false)
		return report, fmt.Errorf("failed to list groups: %w", err)
	}
	report.Groups = len(groups)

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(j.parallelism)

	for _, chatID := range groups {
		g.Go(func() error {
			created, announced, err := j.runGroup(ctx, chatID, period)

			mu.Lock()
			defer mu.Unlock()
			if created {
				report.Created++
			}
			switch {
			case err != nil:
				report.Failed++
				errs = append(errs, err)
			case announced == announceSkippedEmpty:
				report.Empty++
			case announced == announceSkippedDone:
				report.AlreadyAnnounced++
			default:
				report.Announced++
			}
			return nil
		})
	}
	_ = g.Wait()

	err = errors.Join(errs...)
	metrics.ObserveJob(time.Since(start), err == nil)

	log.Info().Str("period", report.Period).Int("groups", report.Groups).Int("created", report.Created).
		Int("announced", report.Announced).Int("already_announced", report.AlreadyAnnounced).
		Int("empty", report.Empty).Int("failed", report.Failed).Dur("took", time.Since(start)).
		Msg("scheduler: Weekly pairing completed")

	return report, err
}

type announceState int

const (
	announceSent announceState = iota
	announceSkippedEmpty
	announceSkippedDone
)

func (j *WeeklyJob) runGroup(ctx context.Context, chatID int64, period string) (bool, announceState, error) {
	result, err := j.engine.RunRound(ctx, chatID, period)
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Str("period", period).Msg("scheduler: Failed to run round")
		return false, 0, err
	}
	if result.Empty() {
		return false, announceSkippedEmpty, nil
	}
	if result.Round.Announced() {
		return result.Created, announceSkippedDone, nil
	}

	if err := j.announcer.Announce(ctx, result); err != nil {
		metrics.IncAnnouncement("failed")
		log.Error().Err(err).Int64("chat_id", chatID).Str("period", period).Msg("scheduler: Failed to announce round")
		return result.Created, 0, fmt.Errorf("announce round for chat %d: %w", chatID, err)
	}
	metrics.IncAnnouncement("sent")

	if err := j.engine.MarkAnnounced(ctx, result.Round.ID); err != nil {
		return result.Created, 0, fmt.Errorf("mark round %d announced: %w", result.Round.ID, err)
	}
	return result.Created, announceSent, nil
}
