// Package engine maintains group rosters and runs their weekly pairing rounds.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"telegram-pairing-bot/lock"
	"telegram-pairing-bot/metrics"
	"telegram-pairing-bot/pairing"
	"telegram-pairing-bot/storage"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Store is the persistence the engine works on
type Store interface {
	JoinGroup(ctx context.Context, chatID int64, title string, user storage.UserProfile, at time.Time) (storage.JoinResult, error)
	LeaveGroup(ctx context.Context, chatID int64, title string, userID int64, at time.Time) (storage.LeaveResult, error)
	GetGroup(ctx context.Context, chatID int64) (*storage.Group, error)
	GetGroupIDs(ctx context.Context) ([]int64, error)
	GetParticipants(ctx context.Context, chatID int64) ([]storage.Participant, error)
	GetActiveParticipants(ctx context.Context, chatID int64) ([]storage.Participant, error)
	GetParticipant(ctx context.Context, chatID, userID int64) (*storage.Participant, error)
	GetRound(ctx context.Context, chatID int64, period string) (*storage.Round, error)
	GetLatestRound(ctx context.Context, chatID int64) (*storage.Round, error)
	SaveRound(ctx context.Context, chatID int64, period string, round pairing.Round, at time.Time) (*storage.Round, error)
	MarkAnnounced(ctx context.Context, roundID uint, at time.Time) error
}

// Chat identifies the group a command came from
type Chat struct {
	ID    int64
	Title string
}

type JoinOutcome struct {
	Result      storage.JoinResult
	ActiveCount int
}

type LeaveOutcome struct {
	Result      storage.LeaveResult
	ActiveCount int
}

// Snapshot is the roster of a group at one point in time
type Snapshot struct {
	ChatID       int64
	Title        string
	Participants []storage.Participant
	// LastRound is nil until the group's first round
	LastRound *storage.Round
}

// Active returns the participants eligible for the next round
func (s Snapshot) Active() []storage.Participant {
	return lo.Filter(s.Participants, func(p storage.Participant, _ int) bool {
		return p.Active()
	})
}

// PairStatus is what a participant knows about their own pairing
type PairStatus struct {
	// Participant is nil when the user never joined
	Participant *storage.Participant
	LastPartner *storage.Participant
	ActiveCount int
}

// RoundResult is a recorded round together with its members' names
type RoundResult struct {
	ChatID  int64
	Title   string
	Period  string
	Round   *storage.Round
	Pairing pairing.Round
	// Created is false when the round had been recorded before
	Created bool
}

// Empty reports whether there was nobody to pair
func (r RoundResult) Empty() bool {
	return r.Round == nil
}

type Option func(*Engine)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRand sets the random source used for the round of a chat
func WithRand(newRand func(chatID int64) *rand.Rand) Option {
	return func(e *Engine) { e.newRand = newRand }
}

// WithMaxShuffles bounds the re-shuffles spent on avoiding repeats
func WithMaxShuffles(n int) Option {
	return func(e *Engine) { e.maxShuffles = n }
}

type Engine struct {
	store       Store
	locker      lock.Locker
	now         func() time.Time
	newRand     func(chatID int64) *rand.Rand
	maxShuffles int
}

func New(store Store, locker lock.Locker, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		locker:      locker,
		now:         time.Now,
		maxShuffles: pairing.DefaultMaxShuffles,
		newRand: func(int64) *rand.Rand {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// withGroup runs fn while holding the lock of the chat
func (e *Engine) withGroup(ctx context.Context, chatID int64, fn func() error) error {
	unlock, err := e.locker.Lock(ctx, lock.GroupKey(chatID))
	if err != nil {
		log.Error().Err(err).Int64("chat_id", chatID).Msg("engine: Failed to lock group")
		return err
	}
	defer unlock()

	return fn()
}

// Join adds the user to the roster of the chat, or reactivates them. Joining
// twice is a no-op.
func (e *Engine) Join(ctx context.Context, chat Chat, user storage.UserProfile) (JoinOutcome, error) {
	var outcome JoinOutcome

	err := e.withGroup(ctx, chat.ID, func() error {
		result, err := e.store.JoinGroup(ctx, chat.ID, chat.Title, user, e.now())
		if err != nil {
			return err
		}
		outcome.Result = result

		active, err := e.store.GetActiveParticipants(ctx, chat.ID)
		if err != nil {
			return err
		}
		outcome.ActiveCount = len(active)
		return nil
	})
	if err != nil {
		return JoinOutcome{}, fmt.Errorf("join: %w", err)
	}

	log.Info().Int64("chat_id", chat.ID).Int64("user_id", user.ID).Int("result", int(outcome.Result)).
		Int("active", outcome.ActiveCount).Msg("engine: User joined")
	return outcome, nil
}

// Leave removes the user from the roster. Leaving twice is a no-op.
func (e *Engine) Leave(ctx context.Context, chat Chat, userID int64) (LeaveOutcome, error) {
	var outcome LeaveOutcome

	err := e.withGroup(ctx, chat.ID, func() error {
		result, err := e.store.LeaveGroup(ctx, chat.ID, chat.Title, userID, e.now())
		if err != nil {
			return err
		}
		outcome.Result = result

		active, err := e.store.GetActiveParticipants(ctx, chat.ID)
		if err != nil {
			return err
		}
		outcome.ActiveCount = len(active)
		return nil
	})
	if err != nil {
		return LeaveOutcome{}, fmt.Errorf("leave: %w", err)
	}

	log.Info().Int64("chat_id", chat.ID).Int64("user_id", userID).Int("result", int(outcome.Result)).
		Int("active", outcome.ActiveCount).Msg("engine: User left")
	return outcome, nil
}

// Status returns every participant of the chat with their status
func (e *Engine) Status(ctx context.Context, chatID int64) (Snapshot, error) {
	snapshot := Snapshot{ChatID: chatID}

	group, err := e.store.GetGroup(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		return snapshot, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("status: %w", err)
	}
	snapshot.Title = group.Title

	snapshot.Participants, err = e.store.GetParticipants(ctx, chatID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("status: %w", err)
	}

	snapshot.LastRound, err = e.store.GetLatestRound(ctx, chatID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Snapshot{}, fmt.Errorf("status: %w", err)
	}
	return snapshot, nil
}

// MyPair returns the user's membership and their partner from the last
// round they took part in.
func (e *Engine) MyPair(ctx context.Context, chatID, userID int64) (PairStatus, error) {
	var status PairStatus

	active, err := e.store.GetActiveParticipants(ctx, chatID)
	if err != nil {
		return PairStatus{}, fmt.Errorf("mypair: %w", err)
	}
	status.ActiveCount = len(active)

	p, err := e.store.GetParticipant(ctx, chatID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return PairStatus{}, fmt.Errorf("mypair: %w", err)
	}
	status.Participant = p

	if p.LastPartnerID == nil {
		return status, nil
	}
	partner, err := e.store.GetParticipant(ctx, chatID, *p.LastPartnerID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return PairStatus{}, fmt.Errorf("mypair: %w", err)
	}
	status.LastPartner = partner

	return status, nil
}

// Groups returns the chat IDs of all known groups
func (e *Engine) Groups(ctx context.Context) ([]int64, error) {
	return e.store.GetGroupIDs(ctx)
}

// RunRound computes and records the round of the chat for the period. A
// period is computed at most once: when it is already recorded, the stored
// round is returned with Created unset. An empty roster records nothing.
func (e *Engine) RunRound(ctx context.Context, chatID int64, period string) (RoundResult, error) {
	result := RoundResult{ChatID: chatID, Period: period}

	err := e.withGroup(ctx, chatID, func() error {
		group, err := e.store.GetGroup(ctx, chatID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		result.Title = group.Title

		existing, err := e.store.GetRound(ctx, chatID, period)
		if err == nil {
			participants, err := e.store.GetParticipants(ctx, chatID)
			if err != nil {
				return err
			}
			result.Round = existing
			result.Pairing = describe(existing, participants)
			return nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		active, err := e.store.GetActiveParticipants(ctx, chatID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return nil
		}

		candidates := lo.Map(active, func(p storage.Participant, _ int) pairing.Candidate {
			return candidate(p)
		})
		computed := pairing.ComputeRound(candidates, e.newRand(chatID), pairing.Options{MaxShuffles: e.maxShuffles})

		saved, err := e.store.SaveRound(ctx, chatID, period, computed, e.now())
		if err != nil {
			return err
		}
		result.Round = saved
		result.Pairing = computed
		result.Created = true
		return nil
	})
	if err != nil {
		metrics.IncRound("failed")
		return RoundResult{}, fmt.Errorf("round for chat %d, period %s: %w", chatID, period, err)
	}

	switch {
	case result.Empty():
		metrics.IncRound("empty")
		log.Info().Int64("chat_id", chatID).Str("period", period).Msg("engine: No active participants, round skipped")
	case result.Created:
		metrics.IncRound("created")
		metrics.AddRepeatedPairs(result.Pairing.Repeats)
		log.Info().Int64("chat_id", chatID).Str("period", period).Int("members", result.Pairing.Size()).
			Int("pairs", len(result.Pairing.Pairs)).Bool("odd", result.Pairing.Unpaired != nil).Int("repeats", result.Pairing.Repeats).
			Msg("engine: Round recorded")
	default:
		metrics.IncRound("existing")
		log.Debug().Int64("chat_id", chatID).Str("period", period).Msg("engine: Round already recorded")
	}

	return result, nil
}

// MarkAnnounced records that the round reached its chat
func (e *Engine) MarkAnnounced(ctx context.Context, roundID uint) error {
	return e.store.MarkAnnounced(ctx, roundID, e.now())
}

func member(p storage.Participant) pairing.Member {
	return pairing.Member{UserID: p.UserID, Name: p.DisplayName()}
}

func candidate(p storage.Participant) pairing.Candidate {
	c := pairing.Candidate{Member: member(p), WasUnpaired: p.LastUnpaired}
	if p.LastPartnerID != nil {
		c.LastPartnerID = *p.LastPartnerID
	}
	return c
}

// describe rebuilds a stored round with the current names of its members
func describe(round *storage.Round, participants []storage.Participant) pairing.Round {
	byID := lo.KeyBy(participants, func(p storage.Participant) int64 { return p.UserID })
	lookup := func(userID int64) pairing.Member {
		if p, ok := byID[userID]; ok {
			return member(p)
		}
		return pairing.Member{UserID: userID, Name: fmt.Sprintf("user %d", userID)}
	}

	described := pairing.Round{
		Pairs: lo.Map(round.Pairs, func(rp storage.RoundPair, _ int) pairing.Pair {
			return pairing.Pair{First: lookup(rp.FirstUserID), Second: lookup(rp.SecondUserID)}
		}),
	}
	if round.UnpairedUserID != nil {
		m := lookup(*round.UnpairedUserID)
		described.Unpaired = &m
	}
	return described
}
