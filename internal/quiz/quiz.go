// Package quiz generates test sessions from studied topics and scores them.
package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/onimate/internal/apperr"
	"github.com/pavelanni/onimate/internal/engine"
	"github.com/pavelanni/onimate/internal/llm"
	"github.com/pavelanni/onimate/internal/model"
)

// Sizing and scoring constants.
const (
	DefaultQuestions    = 10
	MaxQuestions        = 50
	MaxTopics           = 40
	CompletionBonusXP   = 100
	WrongAnswerXP       = 5
	UnknownDifficultyXP = 80
	// ReportFallbackXP is used by the reported total for unknown difficulties.
	ReportFallbackXP = 85
	MiscTopic        = "misc"
)

// DifficultyXP is the base award for a correct answer.
var DifficultyXP = map[model.Difficulty]int{
	model.DifficultyEasy:   70,
	model.DifficultyMedium: 85,
	model.DifficultyHard:   100,
}

// QuestionGenerator produces quiz questions for a list of topics.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, topics []string, n int) ([]model.Question, error)
}

// Service starts, scores and reviews test sessions.
type Service struct {
	engine  *engine.Engine
	gen     QuestionGenerator
	timeout time.Duration
}

// NewService returns a Service. gen may be nil to always use the built-in questions.
func NewService(e *engine.Engine, gen QuestionGenerator, timeout time.Duration) *Service {
	return &Service{engine: e, gen: gen, timeout: timeout}
}

// StartRequest configures a new test. A nil NumQuestions means
// DefaultQuestions; an explicit zero yields an empty session.
type StartRequest struct {
	NumQuestions *int `json:"numQuestions"`
}

// Questions returns n as a request value.
func Questions(n int) *int {
	return &n
}

// StartResult is the created session.
type StartResult struct {
	Session model.TestSession `json:"session"`
	Warning string            `json:"warning,omitempty"`
}

// Answer is the learner's response to one question.
type Answer struct {
	ID      string `json:"id"`
	Answer  string `json:"answer"`
	Correct bool   `json:"correct"`
}

// SubmitRequest scores a session.
type SubmitRequest struct {
	SessionID string   `json:"sessionId"`
	Answers   []Answer `json:"answers"`
}

// SubmitResult summarizes a scored session.
//
// EarnedXP is recomputed from the difficulty table alone and ignores the
// multipliers applied by the engine. GrantedXP is what the engine actually
// added, completion bonus included. The two can differ.
type SubmitResult struct {
	SessionID string `json:"sessionId"`
	Correct   int    `json:"correct"`
	Total     int    `json:"total"`
	EarnedXP  int64  `json:"earnedXP"`
	GrantedXP int64  `json:"grantedXP"`
}

// Start creates a test session over the topics studied so far.
func (s *Service) Start(ctx context.Context, req StartRequest) (StartResult, error) {
	n := DefaultQuestions
	if req.NumQuestions != nil {
		n = *req.NumQuestions
	}
	if n < 0 {
		return StartResult{}, apperr.Validation("numQuestions must not be negative")
	}
	n = min(n, MaxQuestions)

	var topics []string
	s.engine.View(func(st *model.UserState) {
		topics = RecentTopics(st.Interactions, MaxTopics)
	})

	var (
		questions []model.Question
		warning   string
	)
	if s.gen != nil && len(topics) > 0 && n > 0 {
		generated, err := s.generate(ctx, topics, n)
		switch {
		case err == nil:
			questions = generated
		case errors.Is(err, llm.ErrDisabled):
		default:
			slog.Warn("question generation failed, using built-in questions", "error", err)
			warning = "fallback used"
		}
	}
	if len(questions) == 0 {
		questions = Fallback(topics, n)
	}

	sess := model.TestSession{
		ID:        uuid.NewString(),
		Date:      s.engine.Now().UTC(),
		Questions: questions,
		Total:     len(questions),
	}
	err := s.engine.Update(ctx, func(tx *engine.Tx) error {
		st := tx.State()
		st.Tests = append(st.Tests, sess)
		return nil
	})
	if err != nil {
		return StartResult{}, err
	}
	slog.Info("test session started", "id", sess.ID, "questions", sess.Total, "topics", len(topics))
	return StartResult{Session: sess, Warning: warning}, nil
}

func (s *Service) generate(ctx context.Context, topics []string, n int) ([]model.Question, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	qs, err := s.gen.GenerateQuestions(ctx, topics, n)
	if err != nil {
		return nil, err
	}
	if len(qs) > MaxQuestions {
		qs = qs[:MaxQuestions]
	}
	return qs, nil
}

// Submit scores the answers of a session. A session can be submitted once.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	if req.SessionID == "" || req.Answers == nil {
		return SubmitResult{}, apperr.Validation("sessionId and answers required")
	}

	var res SubmitResult
	err := s.engine.Update(ctx, func(tx *engine.Tx) error {
		sess := tx.State().Test(req.SessionID)
		if sess == nil {
			return apperr.NotFound("test session", req.SessionID)
		}
		if sess.Completed {
			return apperr.Conflict("session already completed")
		}

		var granted int64
		correct := 0
		for _, a := range req.Answers {
			q := sess.Question(a.ID)
			var topic, prompt string
			diff := model.DifficultyMedium
			if q != nil {
				topic, prompt = q.Topic, q.Prompt
				if q.Difficulty != "" {
					diff = q.Difficulty
				}
			}

			opts := engine.AwardOptions{Topic: topic, IsEliteDay: tx.IsEliteDay()}
			if a.Correct {
				correct++
				opts.Reason = "test-correct"
				granted += tx.Award(float64(correctXP(diff, UnknownDifficultyXP)), opts)
			} else {
				opts.Reason = "test-wrong"
				granted += tx.Award(WrongAnswerXP, opts)
			}

			if topic == "" {
				topic = MiscTopic
			}
			ok := a.Correct
			tx.AddInteraction(model.InteractionRecord{
				Topic:      topic,
				Type:       model.InteractionTest,
				Question:   prompt,
				UserAnswer: a.Answer,
				Correct:    &ok,
			})
		}

		granted += tx.Award(CompletionBonusXP, engine.AwardOptions{Reason: "test-complete", IsEliteDay: tx.IsEliteDay()})

		now := tx.Now().UTC()
		sess.Correct = correct
		sess.EarnedXP = granted
		sess.Completed = true
		sess.CompletedAt = &now

		res = SubmitResult{
			SessionID: sess.ID,
			Correct:   correct,
			Total:     sess.Total,
			EarnedXP:  ReportedXP(sess.Questions, req.Answers),
			GrantedXP: granted,
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	if res.EarnedXP != res.GrantedXP {
		slog.Debug("reported test XP differs from granted XP", "session", res.SessionID, "reported", res.EarnedXP, "granted", res.GrantedXP)
	}
	return res, nil
}

// Review returns a copy of the session with the given ID.
func (s *Service) Review(_ context.Context, id string) (model.TestSession, error) {
	var (
		sess  model.TestSession
		found bool
	)
	s.engine.View(func(st *model.UserState) {
		if t := st.Test(id); t != nil {
			sess = *t
			sess.Questions = append([]model.Question(nil), t.Questions...)
			found = true
		}
	})
	if !found {
		return model.TestSession{}, apperr.NotFound("test session", id)
	}
	return sess, nil
}

// ReportedXP is the display total for a submission: every question of the
// session earns its difficulty value when answered correctly and the effort
// award otherwise, plus the completion bonus. Engine multipliers are not
// applied.
func ReportedXP(questions []model.Question, answers []Answer) int64 {
	byID := make(map[string]Answer, len(answers))
	for _, a := range answers {
		if _, dup := byID[a.ID]; !dup {
			byID[a.ID] = a
		}
	}
	var total int64
	for _, q := range questions {
		if a, ok := byID[q.ID]; ok && a.Correct {
			total += int64(correctXP(q.Difficulty, ReportFallbackXP))
			continue
		}
		total += WrongAnswerXP
	}
	return total + CompletionBonusXP
}

func correctXP(d model.Difficulty, fallback int) int {
	if xp, ok := DifficultyXP[d]; ok {
		return xp
	}
	return fallback
}

// RecentTopics returns the distinct non-empty topics of interactions in
// first-seen order, at most limit of them.
func RecentTopics(interactions []model.InteractionRecord, limit int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, in := range interactions {
		if in.Topic == "" || seen[in.Topic] {
			continue
		}
		seen[in.Topic] = true
		out = append(out, in.Topic)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Fallback builds n deterministic questions. With no topics they are generic
// medium questions; otherwise topics are used round-robin with difficulty
// cycling hard, medium, easy.
func Fallback(topics []string, n int) []model.Question {
	qs := make([]model.Question, 0, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("q-%d", i+1)
		if len(topics) == 0 {
			qs = append(qs, model.Question{
				ID:         id,
				Prompt:     fmt.Sprintf("Explain this concept in one sentence: Topic %d", i+1),
				Difficulty: model.DifficultyMedium,
				Topic:      fmt.Sprintf("Topic%d", i+1),
			})
			continue
		}
		t := topics[i%len(topics)]
		qs = append(qs, model.Question{
			ID:         id,
			Prompt:     fmt.Sprintf("Question on %s: short answer", t),
			Difficulty: cycleDifficulty(i),
			Topic:      t,
		})
	}
	return qs
}

func cycleDifficulty(i int) model.Difficulty {
	switch i % 3 {
	case 0:
		return model.DifficultyHard
	case 1:
		return model.DifficultyMedium
	default:
		return model.DifficultyEasy
	}
}
