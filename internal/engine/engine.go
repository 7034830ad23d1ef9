// Package engine owns the learner state and awards XP.
//
// Every mutation goes through the Engine so that the focus timer, HTTP
// handlers and CLI commands see one consistent UserState. The full
// document is persisted after each award.
package engine

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/onimate/internal/model"
	"github.com/pavelanni/onimate/internal/rank"
	"github.com/pavelanni/onimate/internal/store"
	"github.com/pavelanni/onimate/internal/streak"
)

// Scoring constants.
const (
	SpamWindow           = 7 * 24 * time.Hour
	SpamThreshold        = 3
	SpamMultiplier       = 0.9
	LongStreakDays       = 7
	LongStreakMultiplier = 1.05
	EliteBonus           = 0.10
)

// AwardOptions describes the context of a single XP award.
type AwardOptions struct {
	// Topic enables the repeated-topic penalty when set.
	Topic      string
	IsEliteDay bool
	// Reason is only used for logging.
	Reason string
}

// Engine serializes all access to the UserState.
type Engine struct {
	mu    sync.Mutex
	state *model.UserState
	store store.Snapshotter
	now   func() time.Time
	loc   *time.Location
	log   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the time zone used to derive calendar days and weekdays.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithLogger sets the logger for award lines and persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an engine owning st. A nil state starts from defaults and a
// nil store disables persistence.
func New(st *model.UserState, s store.Snapshotter, opts ...Option) *Engine {
	if st == nil {
		st = model.DefaultUserState()
	}
	if s == nil {
		s = store.NewMemory()
	}
	e := &Engine{
		state: st,
		store: s,
		now:   time.Now,
		loc:   time.UTC,
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Load builds an engine from the snapshot held by s. A snapshot that cannot
// be read is logged and the engine starts from defaults.
func Load(ctx context.Context, s store.Snapshotter, opts ...Option) *Engine {
	st, err := store.LoadState(ctx, s)
	e := New(st, s, opts...)
	if err != nil {
		e.log.Error("failed to load user state, starting fresh", "error", err)
	}
	return e
}

// Now returns the engine's current time.
func (e *Engine) Now() time.Time {
	return e.now().In(e.loc)
}

// Award applies the multipliers, advances the streak, adds the XP and
// persists the state. It returns the XP actually granted.
func (e *Engine) Award(ctx context.Context, base float64, opts AwardOptions) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	xp := e.award(base, opts)
	e.persist(ctx)
	return xp
}

// IsEliteDay reports whether today is one of the configured rest days.
func (e *Engine) IsEliteDay() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isEliteDay()
}

// Update runs fn with exclusive access to the state and persists afterwards.
func (e *Engine) Update(ctx context.Context, fn func(tx *Tx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	tx := &Tx{e: e, ctx: ctx}
	if err := fn(tx); err != nil {
		return err
	}
	e.persist(ctx)
	return nil
}

// View runs fn with read access to the state. fn must not retain st.
func (e *Engine) View(fn func(st *model.UserState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.state)
}

// Snapshot returns a deep copy of the state.
func (e *Engine) Snapshot() *model.UserState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Profile summarizes the state together with the derived rank.
func (e *Engine) Profile() model.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state
	var last *string
	if st.LastStudyISO != nil {
		d := *st.LastStudyISO
		last = &d
	}
	return model.Profile{
		TotalExp:          st.TotalExp,
		CurrentExp:        st.CurrentExp,
		Rank:              rank.ForXP(st.TotalExp),
		StreakCount:       st.StreakCount,
		EliteStreaks:      st.EliteStreaks,
		LastStudyISO:      last,
		TestsTaken:        len(st.Tests),
		InteractionsCount: len(st.Interactions),
		FocusSessions:     len(st.FocusSessions),
	}
}

// Reset replaces the state with a fresh default instance, persists it and
// returns a copy.
func (e *Engine) Reset(ctx context.Context) *model.UserState {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = model.DefaultUserState()
	e.persist(ctx)
	e.log.Info("user state reset")
	return e.state.Clone()
}

func (e *Engine) award(base float64, opts AwardOptions) int64 {
	xp := base
	if opts.Topic != "" && e.recentTopicCount(opts.Topic) > SpamThreshold {
		xp *= SpamMultiplier
	}
	if e.state.StreakCount >= LongStreakDays {
		xp *= LongStreakMultiplier
	}
	if opts.IsEliteDay {
		xp *= 1 + EliteBonus
	}
	granted := int64(math.Round(math.Max(0, xp)))

	streak.Advance(e.state, streak.Today(e.now(), e.loc))

	e.state.TotalExp += granted
	e.state.CurrentExp += granted

	reason := opts.Reason
	if reason == "" {
		reason = "activity"
	}
	e.log.Info("xp awarded",
		"xp", granted,
		"base", base,
		"reason", reason,
		"total_exp", e.state.TotalExp,
		"streak", e.state.StreakCount,
	)
	return granted
}

func (e *Engine) recentTopicCount(topic string) int {
	since := e.now().Add(-SpamWindow)
	n := 0
	for _, in := range e.state.Interactions {
		if in.Topic == topic && !in.Date.Before(since) {
			n++
		}
	}
	return n
}

func (e *Engine) isEliteDay() bool {
	wd := int(e.now().In(e.loc).Weekday())
	return slices.Contains(e.state.Settings.RestDays, wd)
}

// persist writes the state. The write is detached from ctx cancellation so
// a mutation already applied in memory is not lost when a client hangs up.
func (e *Engine) persist(ctx context.Context) {
	if err := store.SaveState(context.WithoutCancel(ctx), e.store, e.state); err != nil {
		e.log.Error("failed to persist user state", "error", err)
	}
}

// Tx gives a function passed to Update access to the locked state.
type Tx struct {
	e   *Engine
	ctx context.Context
}

// State returns the live state. It must not be retained after Update returns.
func (tx *Tx) State() *model.UserState {
	return tx.e.state
}

// Now returns the engine's current time.
func (tx *Tx) Now() time.Time {
	return tx.e.Now()
}

// IsEliteDay reports whether today is a rest day.
func (tx *Tx) IsEliteDay() bool {
	return tx.e.isEliteDay()
}

// Award grants XP exactly like Engine.Award, persisting immediately.
func (tx *Tx) Award(base float64, opts AwardOptions) int64 {
	xp := tx.e.award(base, opts)
	tx.e.persist(tx.ctx)
	return xp
}

// AddInteraction appends rec to the interaction log, filling in the ID and
// date when they are empty.
func (tx *Tx) AddInteraction(rec model.InteractionRecord) model.InteractionRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Date.IsZero() {
		rec.Date = tx.e.now().UTC()
	}
	tx.e.state.Interactions = append(tx.e.state.Interactions, rec)
	return rec
}
