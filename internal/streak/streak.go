// Package streak implements the daily study streak transition.
package streak

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/onimate/internal/model"
)

// DateLayout is the calendar-date format stored in lastStudyISO.
const DateLayout = "2006-01-02"

// IdleWindowDays is the longest gap that still extends a streak.
const IdleWindowDays = 14

// Today formats t as a calendar date in loc.
func Today(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// DaysBetween returns the number of whole calendar days from a to b.
func DaysBetween(a, b string) (int, error) {
	from, err := time.Parse(DateLayout, a)
	if err != nil {
		return 0, fmt.Errorf("parse date %q: %w", a, err)
	}
	to, err := time.Parse(DateLayout, b)
	if err != nil {
		return 0, fmt.Errorf("parse date %q: %w", b, err)
	}
	return int(to.Sub(from).Hours() / 24), nil
}

// Advance records study activity on today and updates the streak fields of st.
//
//	no previous date   -> streak 1
//	same day           -> unchanged
//	1..14 days later   -> streak + 1
//	more than 14 days  -> streak 1
//
// A previous date in the future (the clock moved back) leaves the streak
// unchanged. An unreadable previous date restarts the streak.
func Advance(st *model.UserState, today string) {
	if st.LastStudyISO == nil {
		restart(st, today)
		return
	}

	diff, err := DaysBetween(*st.LastStudyISO, today)
	if err != nil {
		slog.Warn("unreadable last study date, restarting streak", "last", *st.LastStudyISO, "error", err)
		restart(st, today)
		return
	}

	switch {
	case diff <= 0:
	case diff <= IdleWindowDays:
		st.StreakCount++
		st.LastStudyISO = &today
	default:
		restart(st, today)
	}
}

func restart(st *model.UserState, today string) {
	st.StreakCount = 1
	st.LastStudyISO = &today
}
