package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/onimate/internal/model"
	"github.com/pavelanni/onimate/internal/store"
)

// monday is a weekday so the default rest days do not apply.
var monday = time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestEngine(t *testing.T, st *model.UserState, at time.Time) (*Engine, *store.MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: at}
	mem := store.NewMemory()
	return New(st, mem, WithClock(clock.Now)), mem, clock
}

func withInteractions(topic string, n int, at time.Time) *model.UserState {
	st := model.DefaultUserState()
	for i := 0; i < n; i++ {
		st.Interactions = append(st.Interactions, model.InteractionRecord{ID: "x", Topic: topic, Date: at})
	}
	return st
}

type failingStore struct{}

func (failingStore) Load(context.Context) ([]byte, error) { return nil, errors.New("boom") }
func (failingStore) Save(context.Context, []byte) error   { return errors.New("disk full") }
func (failingStore) Close() error                         { return nil }

// cancelAwareStore refuses writes under a cancelled context, like the
// network backends do.
type cancelAwareStore struct {
	*store.MemoryStore
}

func (s cancelAwareStore) Save(ctx context.Context, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Save(ctx, doc)
}

func TestPersistSurvivesCancelledContext(t *testing.T) {
	mem := store.NewMemory()
	clock := &fakeClock{t: monday}
	e := New(nil, cancelAwareStore{mem}, WithClock(clock.Now))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Equal(t, int64(10), e.Award(ctx, 10, AwardOptions{Topic: "go"}))
	require.NoError(t, e.Update(ctx, func(tx *Tx) error {
		tx.AddInteraction(model.InteractionRecord{Topic: "go"})
		return nil
	}))
	assert.Equal(t, 2, mem.Saves())

	st, err := store.LoadState(context.Background(), mem)
	require.NoError(t, err)
	assert.Equal(t, int64(10), st.TotalExp)
	assert.Len(t, st.Interactions, 1)
}

func TestAwardFreshState(t *testing.T) {
	e, mem, _ := newTestEngine(t, nil, monday)

	xp := e.Award(context.Background(), 100, AwardOptions{})
	assert.Equal(t, int64(100), xp)

	st := e.Snapshot()
	assert.Equal(t, int64(100), st.TotalExp)
	assert.Equal(t, int64(100), st.CurrentExp)
	assert.Equal(t, 1, st.StreakCount)
	require.NotNil(t, st.LastStudyISO)
	assert.Equal(t, "2024-03-11", *st.LastStudyISO)
	assert.Equal(t, 1, mem.Saves())
}

func TestAwardEliteWithLongStreak(t *testing.T) {
	st := model.DefaultUserState()
	st.StreakCount = 7
	today := "2024-03-11"
	st.LastStudyISO = &today
	e, _, _ := newTestEngine(t, st, monday)

	xp := e.Award(context.Background(), 100, AwardOptions{IsEliteDay: true})
	assert.Equal(t, int64(116), xp)
	assert.Equal(t, 7, e.Snapshot().StreakCount)
}

func TestAwardSpamPenalty(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name  string
		prior int
		age   time.Duration
		topic string
		want  int64
	}{
		{"three recent is fine", 3, time.Hour, "go", 100},
		{"four recent is penalized", 4, time.Hour, "go", 90},
		{"exactly seven days old still counts", 4, SpamWindow, "go", 90},
		{"older than a week is ignored", 4, SpamWindow + time.Second, "go", 100},
		{"different topic is ignored", 4, time.Hour, "rust", 100},
		{"no topic skips the check", 4, time.Hour, "", 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := withInteractions("go", tt.prior, monday.Add(-tt.age))
			e, _, _ := newTestEngine(t, st, monday)
			assert.Equal(t, tt.want, e.Award(ctx, 100, AwardOptions{Topic: tt.topic}))
		})
	}
}

func TestAwardMultipliersCompose(t *testing.T) {
	st := withInteractions("go", 5, monday)
	st.StreakCount = 10
	today := "2024-03-11"
	st.LastStudyISO = &today
	e, _, _ := newTestEngine(t, st, monday)

	// 200 * 0.9 * 1.05 * 1.10 = 207.9
	assert.Equal(t, int64(208), e.Award(context.Background(), 200, AwardOptions{Topic: "go", IsEliteDay: true}))
}

func TestAwardLongStreakUsesStreakBeforeTransition(t *testing.T) {
	st := model.DefaultUserState()
	st.StreakCount = 6
	yesterday := "2024-03-10"
	st.LastStudyISO = &yesterday
	e, _, clock := newTestEngine(t, st, monday)
	ctx := context.Background()

	assert.Equal(t, int64(100), e.Award(ctx, 100, AwardOptions{}))
	assert.Equal(t, 7, e.Snapshot().StreakCount)

	assert.Equal(t, int64(105), e.Award(ctx, 100, AwardOptions{}), "same day, bonus now active")
	assert.Equal(t, 7, e.Snapshot().StreakCount)

	clock.Advance(24 * time.Hour)
	assert.Equal(t, int64(105), e.Award(ctx, 100, AwardOptions{}))
	assert.Equal(t, 8, e.Snapshot().StreakCount)
}

func TestAwardStreakResetAfterIdleWindow(t *testing.T) {
	st := model.DefaultUserState()
	st.StreakCount = 12
	old := "2024-02-20"
	st.LastStudyISO = &old
	e, _, _ := newTestEngine(t, st, monday)

	assert.Equal(t, int64(105), e.Award(context.Background(), 100, AwardOptions{}))
	snap := e.Snapshot()
	assert.Equal(t, 1, snap.StreakCount)
	assert.Equal(t, "2024-03-11", *snap.LastStudyISO)
}

func TestAwardRounding(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, monday)
	ctx := context.Background()

	assert.Equal(t, int64(13), e.Award(ctx, 12.5, AwardOptions{}))
	assert.Equal(t, int64(0), e.Award(ctx, 0, AwardOptions{}))
	assert.Equal(t, int64(0), e.Award(ctx, -40, AwardOptions{}))
	assert.Equal(t, int64(13), e.Snapshot().TotalExp)
}

func TestAwardSwallowsPersistenceFailure(t *testing.T) {
	clock := &fakeClock{t: monday}
	e := New(nil, failingStore{}, WithClock(clock.Now))

	assert.Equal(t, int64(50), e.Award(context.Background(), 50, AwardOptions{Reason: "explain"}))
	assert.Equal(t, int64(50), e.Snapshot().TotalExp)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	mem := store.NewMemory()
	seed := model.DefaultUserState()
	seed.TotalExp = 42
	require.NoError(t, store.SaveState(ctx, mem, seed))
	assert.Equal(t, int64(42), Load(ctx, mem).Snapshot().TotalExp)

	fresh := Load(ctx, failingStore{})
	assert.Equal(t, model.DefaultUserState(), fresh.Snapshot())
}

func TestIsEliteDay(t *testing.T) {
	saturday := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	sunday := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	for _, tc := range []struct {
		at   time.Time
		want bool
	}{{saturday, true}, {sunday, true}, {monday, false}} {
		e, _, _ := newTestEngine(t, nil, tc.at)
		assert.Equal(t, tc.want, e.IsEliteDay(), tc.at.Weekday().String())
	}

	// Sunday 23:00 UTC is already Monday in Tokyo.
	late := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: late}
	tokyo := New(nil, nil, WithClock(clock.Now), WithLocation(time.FixedZone("JST", 9*3600)))
	assert.False(t, tokyo.IsEliteDay())
	tokyo.Award(context.Background(), 1, AwardOptions{})
	assert.Equal(t, "2024-03-11", *tokyo.Snapshot().LastStudyISO)
}

func TestUpdate(t *testing.T) {
	e, mem, _ := newTestEngine(t, nil, monday)
	ctx := context.Background()

	err := e.Update(ctx, func(tx *Tx) error {
		rec := tx.AddInteraction(model.InteractionRecord{Topic: "algebra"})
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, monday, rec.Date)
		tx.Award(10, AwardOptions{Topic: "algebra", IsEliteDay: tx.IsEliteDay()})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, mem.Saves())
	assert.Len(t, e.Snapshot().Interactions, 1)

	sentinel := errors.New("nope")
	err = e.Update(ctx, func(tx *Tx) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, mem.Saves())
}

func TestSnapshotIsIndependent(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, monday)
	e.Award(context.Background(), 10, AwardOptions{})

	snap := e.Snapshot()
	snap.TotalExp = 1_000_000
	*snap.LastStudyISO = "1999-01-01"
	snap.Settings.RestDays[0] = 3

	live := e.Snapshot()
	assert.Equal(t, int64(10), live.TotalExp)
	assert.Equal(t, "2024-03-11", *live.LastStudyISO)
	assert.Equal(t, model.Saturday, live.Settings.RestDays[0])
}

func TestProfile(t *testing.T) {
	st := model.DefaultUserState()
	st.TotalExp = 3000
	st.CurrentExp = 3000
	st.Tests = append(st.Tests, model.TestSession{ID: "t"})
	e, _, _ := newTestEngine(t, st, monday)

	p := e.Profile()
	assert.Equal(t, "Bronze 2", p.Rank.RankName)
	assert.Equal(t, 5, p.Rank.Level)
	assert.Equal(t, 1, p.TestsTaken)
	assert.Nil(t, p.LastStudyISO)
}

func TestReset(t *testing.T) {
	e, mem, _ := newTestEngine(t, nil, monday)
	ctx := context.Background()
	e.Award(ctx, 500, AwardOptions{})

	fresh := e.Reset(ctx)
	assert.Equal(t, model.DefaultUserState(), fresh)
	assert.Equal(t, model.DefaultUserState(), e.Snapshot())
	assert.Equal(t, 2, mem.Saves())

	st, err := store.LoadState(ctx, mem)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.TotalExp)
}

func TestConcurrentAwards(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, monday)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Award(ctx, 10, AwardOptions{})
		}()
	}
	wg.Wait()

	st := e.Snapshot()
	assert.Equal(t, int64(500), st.TotalExp)
	assert.Equal(t, 1, st.StreakCount)
}
