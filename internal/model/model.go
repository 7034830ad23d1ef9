package model

import (
	"encoding/json"
	"time"
)

// Difficulty represents question difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// InteractionType tags the learning action that produced an interaction.
type InteractionType string

const (
	InteractionExplain    InteractionType = "explain"
	InteractionSimplify   InteractionType = "simplify"
	InteractionParaphrase InteractionType = "paraphrase"
	InteractionTranslate  InteractionType = "translate"
	InteractionManual     InteractionType = "record"
	InteractionTest       InteractionType = "test"
)

// FocusOutcome records how a focus session ended.
type FocusOutcome string

const (
	FocusCompleted  FocusOutcome = "completed"
	FocusEndedEarly FocusOutcome = "ended-early"
	FocusOrphaned   FocusOutcome = "orphaned"
)

// Weekday indices as stored in Settings.RestDays (0 = Sunday).
const (
	Sunday   = int(time.Sunday)
	Saturday = int(time.Saturday)
)

// UserState is the single persisted document describing the learner.
// JSON keys match the snapshot format written by earlier versions.
type UserState struct {
	TotalExp      int64               `json:"totalExp"`
	CurrentExp    int64               `json:"currentExp"`
	StreakCount   int                 `json:"streakCount"`
	EliteStreaks  int                 `json:"eliteStreaks"`
	LastStudyISO  *string             `json:"lastStudyISO"`
	Interactions  []InteractionRecord `json:"interactions"`
	Tests         []TestSession       `json:"tests"`
	FocusSessions []FocusRecord       `json:"focusSessions"`
	ActiveFocus   *PendingFocus       `json:"activeFocus,omitempty"`
	Settings      Settings            `json:"settings"`
}

// Settings holds user preferences.
type Settings struct {
	RestDays []int `json:"restDays"`
}

// InteractionRecord is one logged learning action.
type InteractionRecord struct {
	ID         string          `json:"id"`
	Topic      string          `json:"topic"`
	Type       InteractionType `json:"type,omitempty"`
	Question   string          `json:"question,omitempty"`
	UserAnswer string          `json:"userAnswer,omitempty"`
	Correct    *bool           `json:"correct,omitempty"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	Date       time.Time       `json:"date"`
}

// Question is a single quiz question.
type Question struct {
	ID         string     `json:"id"`
	Prompt     string     `json:"prompt"`
	Answer     string     `json:"answer,omitempty"`
	Difficulty Difficulty `json:"difficulty"`
	Topic      string     `json:"topic"`
}

// TestSession is a generated quiz and its outcome.
type TestSession struct {
	ID          string     `json:"id"`
	Date        time.Time  `json:"date"`
	Questions   []Question `json:"questions"`
	Total       int        `json:"total"`
	Correct     int        `json:"correct"`
	EarnedXP    int64      `json:"earnedXP"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Question returns the question with the given ID, or nil.
func (s *TestSession) Question(id string) *Question {
	for i := range s.Questions {
		if s.Questions[i].ID == id {
			return &s.Questions[i]
		}
	}
	return nil
}

// FocusRecord is a finished focus session.
type FocusRecord struct {
	ID       string       `json:"id"`
	Start    time.Time    `json:"start"`
	End      time.Time    `json:"end"`
	Pomodoro bool         `json:"pomodoro"`
	XP       int64        `json:"xp"`
	Outcome  FocusOutcome `json:"outcome,omitempty"`
}

// PendingFocus describes the focus session currently running. It is
// persisted so that a restart can detect a session whose completion never fired.
type PendingFocus struct {
	ID       string    `json:"id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Pomodoro bool      `json:"pomodoro"`
	Elite    bool      `json:"elite"`
}

// DefaultUserState returns a fresh state for a new learner.
func DefaultUserState() *UserState {
	return &UserState{
		Interactions:  []InteractionRecord{},
		Tests:         []TestSession{},
		FocusSessions: []FocusRecord{},
		Settings: Settings{
			RestDays: []int{Saturday, Sunday},
		},
	}
}

// Clone returns a deep copy of the state.
func (s *UserState) Clone() *UserState {
	c := *s
	if s.LastStudyISO != nil {
		d := *s.LastStudyISO
		c.LastStudyISO = &d
	}
	c.Interactions = make([]InteractionRecord, len(s.Interactions))
	for i, in := range s.Interactions {
		if in.Correct != nil {
			v := *in.Correct
			in.Correct = &v
		}
		if in.Meta != nil {
			in.Meta = append(json.RawMessage(nil), in.Meta...)
		}
		c.Interactions[i] = in
	}
	c.Tests = make([]TestSession, len(s.Tests))
	for i, t := range s.Tests {
		t.Questions = append([]Question(nil), t.Questions...)
		if t.CompletedAt != nil {
			at := *t.CompletedAt
			t.CompletedAt = &at
		}
		c.Tests[i] = t
	}
	c.FocusSessions = append([]FocusRecord{}, s.FocusSessions...)
	if s.ActiveFocus != nil {
		af := *s.ActiveFocus
		c.ActiveFocus = &af
	}
	c.Settings.RestDays = append([]int{}, s.Settings.RestDays...)
	return &c
}

// Test returns the test session with the given ID, or nil.
func (s *UserState) Test(id string) *TestSession {
	for i := range s.Tests {
		if s.Tests[i].ID == id {
			return &s.Tests[i]
		}
	}
	return nil
}

// RankInfo is the rank and level derived from a total XP value.
type RankInfo struct {
	RankName         string `json:"rankName"`
	Level            int    `json:"level"`
	XPIntoBlock      int64  `json:"xpIntoBlock"`
	XPNeededForBlock int64  `json:"xpNeededForBlock"`
	XPStart          int64  `json:"xpStart"`
	XPEnd            int64  `json:"xpEnd"`
	RowIndex         int    `json:"rowIndex"`
}

// Profile is the summary view returned to clients.
type Profile struct {
	TotalExp          int64    `json:"totalExp"`
	CurrentExp        int64    `json:"currentExp"`
	Rank              RankInfo `json:"rank"`
	StreakCount       int      `json:"streakCount"`
	EliteStreaks      int      `json:"eliteStreaks"`
	LastStudyISO      *string  `json:"lastStudyISO"`
	TestsTaken        int      `json:"testsTaken"`
	InteractionsCount int      `json:"interactionsCount"`
	FocusSessions     int      `json:"focusSessions"`
}
