package streak

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/onimate/internal/model"
)

func stateWith(count int, last string) *model.UserState {
	st := model.DefaultUserState()
	st.StreakCount = count
	if last != "" {
		st.LastStudyISO = &last
	}
	return st
}

func TestAdvance(t *testing.T) {
	tests := []struct {
		name      string
		count     int
		last      string
		today     string
		wantCount int
		wantLast  string
	}{
		{"first activity", 0, "", "2024-03-10", 1, "2024-03-10"},
		{"same day", 3, "2024-03-10", "2024-03-10", 3, "2024-03-10"},
		{"next day", 3, "2024-03-10", "2024-03-11", 4, "2024-03-11"},
		{"gap inside idle window", 3, "2024-03-01", "2024-03-15", 4, "2024-03-15"},
		{"gap beyond idle window", 9, "2024-03-01", "2024-03-16", 1, "2024-03-16"},
		{"across month and leap day", 2, "2024-02-28", "2024-03-01", 3, "2024-03-01"},
		{"clock moved back", 5, "2024-03-10", "2024-03-08", 5, "2024-03-10"},
		{"garbage previous date", 5, "yesterday", "2024-03-08", 1, "2024-03-08"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := stateWith(tt.count, tt.last)
			Advance(st, tt.today)
			assert.Equal(t, tt.wantCount, st.StreakCount)
			require.NotNil(t, st.LastStudyISO)
			assert.Equal(t, tt.wantLast, *st.LastStudyISO)
		})
	}
}

func TestAdvanceIdempotentWithinDay(t *testing.T) {
	st := stateWith(0, "")
	Advance(st, "2024-03-10")
	Advance(st, "2024-03-10")
	Advance(st, "2024-03-10")
	assert.Equal(t, 1, st.StreakCount)
	assert.Equal(t, "2024-03-10", *st.LastStudyISO)
}

func TestDaysBetween(t *testing.T) {
	d, err := DaysBetween("2023-12-31", "2024-01-14")
	require.NoError(t, err)
	assert.Equal(t, 14, d)

	_, err = DaysBetween("2024-01-01", "not-a-date")
	assert.Error(t, err)
}

func TestToday(t *testing.T) {
	instant := time.Date(2024, 3, 10, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-03-10", Today(instant, nil))

	tokyo := time.FixedZone("JST", 9*60*60)
	assert.Equal(t, "2024-03-11", Today(instant, tokyo))
}
