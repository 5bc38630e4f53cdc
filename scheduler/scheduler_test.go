package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"telegram-pairing-bot/engine"
	"telegram-pairing-bot/lock"
	"telegram-pairing-bot/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Groups(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockEngine) RunRound(ctx context.Context, chatID int64, period string) (engine.RoundResult, error) {
	args := m.Called(ctx, chatID, period)
	return args.Get(0).(engine.RoundResult), args.Error(1)
}

func (m *mockEngine) MarkAnnounced(ctx context.Context, roundID uint) error {
	return m.Called(ctx, roundID).Error(0)
}

type mockAnnouncer struct {
	mock.Mock
}

func (m *mockAnnouncer) Announce(ctx context.Context, result engine.RoundResult) error {
	return m.Called(ctx, result).Error(0)
}

func addisAbaba(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Africa/Addis_Ababa")
	require.NoError(t, err)
	return loc
}

func recorded(chatID int64, id uint, announced bool) engine.RoundResult {
	round := &storage.Round{ID: id, GroupID: chatID}
	if announced {
		at := time.Now()
		round.AnnouncedAt = &at
	}
	return engine.RoundResult{ChatID: chatID, Round: round, Created: !announced}
}

// TestSchedule_Next checks the next pairing is computed in the schedule's time zone
func TestSchedule_Next(t *testing.T) {
	loc := addisAbaba(t)
	s, err := NewSchedule(time.Sunday, 19, 0, loc)
	require.NoError(t, err)

	from := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	next := s.Next(from)

	assert.True(t, time.Date(2026, 10, 18, 16, 0, 0, 0, time.UTC).Equal(next), "got %s", next)
	assert.Equal(t, time.Sunday, next.Weekday())
	assert.Equal(t, 19, next.Hour())
	assert.Equal(t, "CRON_TZ=Africa/Addis_Ababa 0 19 * * 0", s.Spec())
	assert.Equal(t, "Sunday 19:00 Africa/Addis_Ababa", s.String())
}

// TestSchedule_Saturday checks another configured day
func TestSchedule_Saturday(t *testing.T) {
	s, err := NewSchedule(time.Saturday, 9, 30, time.UTC)
	require.NoError(t, err)

	next := s.Next(time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC))

	assert.True(t, time.Date(2026, 10, 24, 9, 30, 0, 0, time.UTC).Equal(next), "got %s", next)
}

// TestPeriod checks the ISO week key in the schedule's time zone
func TestPeriod(t *testing.T) {
	loc := addisAbaba(t)

	assert.Equal(t, "2026-W42", Period(time.Date(2026, 10, 18, 16, 0, 0, 0, time.UTC), loc))
	// Sunday 22:00 UTC is already Monday in Addis Ababa.
	assert.Equal(t, "2026-W43", Period(time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC), loc))
	assert.Equal(t, "2026-W53", Period(time.Date(2027, 1, 2, 12, 0, 0, 0, time.UTC), loc))
}

// TestRunPeriod_Mixed checks each kind of group outcome is counted
func TestRunPeriod_Mixed(t *testing.T) {
	ctx := context.Background()
	eng := &mockEngine{}
	ann := &mockAnnouncer{}

	fresh := recorded(-1, 10, false)
	done := recorded(-3, 30, true)

	eng.On("Groups", ctx).Return([]int64{-1, -2, -3, -4}, nil)
	eng.On("RunRound", ctx, int64(-1), "2026-W42").Return(fresh, nil)
	eng.On("RunRound", ctx, int64(-2), "2026-W42").Return(engine.RoundResult{ChatID: -2}, nil)
	eng.On("RunRound", ctx, int64(-3), "2026-W42").Return(done, nil)
	eng.On("RunRound", ctx, int64(-4), "2026-W42").Return(engine.RoundResult{}, errors.New("locked"))
	eng.On("MarkAnnounced", ctx, uint(10)).Return(nil)
	ann.On("Announce", ctx, fresh).Return(nil)

	job := NewWeeklyJob(eng, ann, time.UTC, 2)
	report, err := job.RunPeriod(ctx, "2026-W42")

	assert.Error(t, err)
	assert.Equal(t, Report{
		Period:           "2026-W42",
		Groups:           4,
		Created:          1,
		Announced:        1,
		AlreadyAnnounced: 1,
		Empty:            1,
		Failed:           1,
	}, report)
	eng.AssertExpectations(t)
	ann.AssertExpectations(t)
	ann.AssertNumberOfCalls(t, "Announce", 1)
}

// TestRunPeriod_AnnounceFailure checks a failed announcement is not marked
func TestRunPeriod_AnnounceFailure(t *testing.T) {
	ctx := context.Background()
	eng := &mockEngine{}
	ann := &mockAnnouncer{}

	fresh := recorded(-1, 10, false)
	eng.On("Groups", ctx).Return([]int64{-1}, nil)
	eng.On("RunRound", ctx, int64(-1), "2026-W42").Return(fresh, nil)
	ann.On("Announce", ctx, fresh).Return(errors.New("telegram down"))

	report, err := NewWeeklyJob(eng, ann, time.UTC, 1).RunPeriod(ctx, "2026-W42")

	assert.Error(t, err)
	assert.Equal(t, 1, report.Failed)
	eng.AssertNotCalled(t, "MarkAnnounced", mock.Anything, mock.Anything)
}

// TestRunPeriod_GroupsFailure checks the job fails when groups cannot be listed
func TestRunPeriod_GroupsFailure(t *testing.T) {
	ctx := context.Background()
	eng := &mockEngine{}
	eng.On("Groups", ctx).Return([]int64(nil), errors.New("db gone"))

	_, err := NewWeeklyJob(eng, &mockAnnouncer{}, time.UTC, 1).RunPeriod(ctx, "2026-W42")

	assert.Error(t, err)
}

// TestRun_UsesCurrentPeriod checks Run derives the period from the clock
func TestRun_UsesCurrentPeriod(t *testing.T) {
	ctx := context.Background()
	eng := &mockEngine{}
	eng.On("Groups", ctx).Return([]int64{-1}, nil)
	eng.On("RunRound", ctx, int64(-1), "2026-W43").Return(engine.RoundResult{ChatID: -1}, nil)

	job := NewWeeklyJob(eng, &mockAnnouncer{}, addisAbaba(t), 1)
	job.now = func() time.Time { return time.Date(2026, 10, 18, 22, 0, 0, 0, time.UTC) }

	report, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2026-W43", report.Period)
	assert.Equal(t, 1, report.Empty)
}

type flakyAnnouncer struct {
	mu       sync.Mutex
	failures int
	sent     []engine.RoundResult
}

func (a *flakyAnnouncer) Announce(_ context.Context, result engine.RoundResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return errors.New("telegram down")
	}
	a.sent = append(a.sent, result)
	return nil
}

// TestRunPeriod_RetryDoesNotRecompute checks re-running the job re-sends the recorded round
func TestRunPeriod_RetryDoesNotRecompute(t *testing.T) {
	ctx := context.Background()
	store, err := storage.New(filepath.Join(t.TempDir(), "job.sqlite"))
	require.NoError(t, err)
	defer store.Close()

	eng := engine.New(store, lock.NewMemoryLocker())
	for _, id := range []int64{1, 2, 3, 4} {
		_, err := eng.Join(ctx, engine.Chat{ID: -1, Title: "Group"}, storage.UserProfile{ID: id, FirstName: "u"})
		require.NoError(t, err)
	}

	ann := &flakyAnnouncer{failures: 1}
	job := NewWeeklyJob(eng, ann, time.UTC, 2)

	first, err := job.RunPeriod(ctx, "2026-W42")
	assert.Error(t, err)
	assert.Equal(t, 1, first.Created)
	assert.Equal(t, 1, first.Failed)

	second, err := job.RunPeriod(ctx, "2026-W42")
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Announced)

	third, err := job.RunPeriod(ctx, "2026-W42")
	require.NoError(t, err)
	assert.Equal(t, 1, third.AlreadyAnnounced)

	require.Len(t, ann.sent, 1)
	assert.Len(t, ann.sent[0].Pairing.Pairs, 2)
}

// TestScheduler_StartStop checks the cron loop can be started and stopped
func TestScheduler_StartStop(t *testing.T) {
	s, err := NewSchedule(time.Sunday, 19, 0, time.UTC)
	require.NoError(t, err)

	sched := New(s, NewWeeklyJob(&mockEngine{}, &mockAnnouncer{}, time.UTC, 1))
	require.NoError(t, sched.Start(context.Background()))

	assert.True(t, sched.Next().After(time.Now()))
	assert.Equal(t, time.Sunday, sched.Next().Weekday())

	sched.Stop()
}

func TestValidPeriod(t *testing.T) {
	assert.True(t, ValidPeriod("2026-W42"))
	assert.True(t, ValidPeriod("2026-W01"))
	assert.False(t, ValidPeriod("2026-W1"))
	assert.False(t, ValidPeriod("2026-W54"))
	assert.False(t, ValidPeriod("2026-42"))
	assert.False(t, ValidPeriod("2026-W42x"))
	assert.False(t, ValidPeriod(""))
}
