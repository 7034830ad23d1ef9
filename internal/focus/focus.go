// Package focus runs timed focus (pomodoro) sessions.
//
// At most one session is active. Starting awards a small amount of XP, the
// completion timer awards the full bonus, and ending early awards XP in
// proportion to the minutes spent. The pending session is stored in the
// user state so a restart can resume or write it off.
package focus

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/onimate/internal/apperr"
	"github.com/pavelanni/onimate/internal/engine"
	"github.com/pavelanni/onimate/internal/model"
)

// XP amounts and defaults.
const (
	DefaultDuration = 25 * time.Minute
	StartXP         = 20
	CompleteXP      = 120
	PomodoroBonusXP = 30
	Topic           = "focus"
)

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Manager owns the active focus session and its completion timer.
type Manager struct {
	mu        sync.Mutex
	engine    *engine.Engine
	duration  time.Duration
	afterFunc AfterFunc
	timer     Timer
	log       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDuration sets the length of a full session.
func WithDuration(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.duration = d
		}
	}
}

// WithAfterFunc replaces the timer implementation.
func WithAfterFunc(f AfterFunc) Option {
	return func(m *Manager) { m.afterFunc = f }
}

// NewManager creates a Manager bound to e.
func NewManager(e *engine.Engine, opts ...Option) *Manager {
	m := &Manager{
		engine:    e,
		duration:  DefaultDuration,
		afterFunc: realAfterFunc,
		log:       slog.Default().With("component", "focus"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Duration returns the length of a full session.
func (m *Manager) Duration() time.Duration {
	return m.duration
}

// StartResult describes a newly started session.
type StartResult struct {
	OK        bool      `json:"ok"`
	ID        string    `json:"id"`
	EndsAt    time.Time `json:"endsAt"`
	XPAwarded int64     `json:"xpAwarded"`
}

// Status describes the active session, if any.
type Status struct {
	Active   bool       `json:"active"`
	Pomodoro bool       `json:"pomodoro,omitempty"`
	TimeLeft string     `json:"timeLeft,omitempty"`
	EndsAt   *time.Time `json:"endsAt,omitempty"`
}

// EndResult describes a session ended before its timer fired.
type EndResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
	Awarded int64  `json:"awarded"`
	Minutes int    `json:"minutes"`
}

// Start begins a session. It fails with a conflict if one is already active.
func (m *Manager) Start(ctx context.Context, pomodoro bool) (StartResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res StartResult
	err := m.engine.Update(ctx, func(tx *engine.Tx) error {
		st := tx.State()
		if st.ActiveFocus != nil {
			return apperr.Conflict("Focus already active")
		}
		now := tx.Now()
		elite := tx.IsEliteDay()
		pending := &model.PendingFocus{
			ID:       uuid.NewString(),
			Start:    now,
			End:      now.Add(m.duration),
			Pomodoro: pomodoro,
			Elite:    elite,
		}
		st.ActiveFocus = pending
		xp := tx.Award(StartXP, engine.AwardOptions{Topic: Topic, Reason: "focus-start", IsEliteDay: elite})
		res = StartResult{OK: true, ID: pending.ID, EndsAt: pending.End, XPAwarded: xp}
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}

	m.schedule(res.ID, m.duration)
	m.log.Info("focus session started", "id", res.ID, "pomodoro", pomodoro, "ends_at", res.EndsAt)
	return res, nil
}

// Status reports the active session and the time left on it.
func (m *Manager) Status() Status {
	var st Status
	m.engine.View(func(s *model.UserState) {
		if s.ActiveFocus == nil {
			return
		}
		end := s.ActiveFocus.End
		st = Status{
			Active:   true,
			Pomodoro: s.ActiveFocus.Pomodoro,
			TimeLeft: FormatTimeLeft(end.Sub(m.engine.Now())),
			EndsAt:   &end,
		}
	})
	return st
}

// End stops the active session early and awards prorated XP. With no
// active session it returns OK=false and a message.
func (m *Manager) End(ctx context.Context) EndResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res EndResult
	_ = m.engine.Update(ctx, func(tx *engine.Tx) error {
		st := tx.State()
		pending := st.ActiveFocus
		if pending == nil {
			res = EndResult{OK: false, Message: "No active focus"}
			return nil
		}
		m.stopTimer()

		now := tx.Now()
		minutes := max(0, int(now.Sub(pending.Start)/time.Minute))
		xp := tx.Award(m.proratedXP(minutes), engine.AwardOptions{
			Topic:      Topic,
			Reason:     "focus-end-early",
			IsEliteDay: tx.IsEliteDay(),
		})
		st.FocusSessions = append(st.FocusSessions, model.FocusRecord{
			ID:       pending.ID,
			Start:    pending.Start,
			End:      now,
			Pomodoro: pending.Pomodoro,
			XP:       xp,
			Outcome:  model.FocusEndedEarly,
		})
		st.ActiveFocus = nil
		res = EndResult{OK: true, Awarded: xp, Minutes: minutes}
		return nil
	})
	if res.OK {
		m.log.Info("focus session ended early", "minutes", res.Minutes, "xp", res.Awarded)
	}
	return res
}

// Recover inspects a session persisted by a previous run. A session whose
// end is still in the future is resumed; one that expired while the process
// was down is recorded as orphaned with no XP. It returns the orphaned
// record, or nil.
func (m *Manager) Recover(ctx context.Context) *model.FocusRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		orphan  *model.FocusRecord
		resume  string
		remains time.Duration
	)
	_ = m.engine.Update(ctx, func(tx *engine.Tx) error {
		st := tx.State()
		pending := st.ActiveFocus
		if pending == nil {
			return nil
		}
		now := tx.Now()
		if left := pending.End.Sub(now); left > 0 {
			resume, remains = pending.ID, left
			return nil
		}
		rec := model.FocusRecord{
			ID:       pending.ID,
			Start:    pending.Start,
			End:      pending.End,
			Pomodoro: pending.Pomodoro,
			Outcome:  model.FocusOrphaned,
		}
		st.FocusSessions = append(st.FocusSessions, rec)
		st.ActiveFocus = nil
		orphan = &rec
		return nil
	})

	switch {
	case orphan != nil:
		m.log.Warn("focus session expired while offline, completion XP lost", "id", orphan.ID, "ended_at", orphan.End)
	case resume != "":
		m.schedule(resume, remains)
		m.log.Info("resumed focus session", "id", resume, "remaining", remains.Round(time.Second))
	}
	return orphan
}

// Close stops the completion timer. The pending session stays persisted.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimer()
}

func (m *Manager) schedule(id string, d time.Duration) {
	m.stopTimer()
	m.timer = m.afterFunc(d, func() { m.complete(id) })
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// complete runs when the timer fires. A stale id means the session was
// already ended or replaced and nothing happens.
func (m *Manager) complete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx := context.Background()
	var xp int64
	done := false
	_ = m.engine.Update(ctx, func(tx *engine.Tx) error {
		st := tx.State()
		pending := st.ActiveFocus
		if pending == nil || pending.ID != id {
			return nil
		}
		base := float64(CompleteXP)
		if pending.Pomodoro {
			base += PomodoroBonusXP
		}
		xp = tx.Award(base, engine.AwardOptions{Topic: Topic, Reason: "focus-complete", IsEliteDay: pending.Elite})
		st.FocusSessions = append(st.FocusSessions, model.FocusRecord{
			ID:       pending.ID,
			Start:    pending.Start,
			End:      pending.End,
			Pomodoro: pending.Pomodoro,
			XP:       xp,
			Outcome:  model.FocusCompleted,
		})
		st.ActiveFocus = nil
		done = true
		return nil
	})
	if done {
		m.timer = nil
		m.log.Info("focus session completed", "id", id, "xp", xp)
	}
}

// proratedXP scales the completion base by the share of the session spent.
func (m *Manager) proratedXP(minutes int) float64 {
	full := m.duration.Minutes()
	return math.Max(0, math.Round(float64(minutes)/full*CompleteXP))
}

// FormatTimeLeft renders d as "Xm Ys", clamping negative values to zero.
func FormatTimeLeft(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	mins := int(d / time.Minute)
	secs := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%dm %ds", mins, secs)
}
