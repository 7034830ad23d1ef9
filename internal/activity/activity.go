// Package activity implements the XP-earning study actions: explain,
// simplify, paraphrase, translate and raw interaction recording.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pavelanni/onimate/internal/apperr"
	"github.com/pavelanni/onimate/internal/engine"
	appI18n "github.com/pavelanni/onimate/internal/i18n"
	"github.com/pavelanni/onimate/internal/llm"
	"github.com/pavelanni/onimate/internal/llm/prompts"
	"github.com/pavelanni/onimate/internal/model"
)

// Generator produces study content for a prompt kind.
type Generator interface {
	Generate(ctx context.Context, kind prompts.Kind, data prompts.Data) (string, error)
}

// Fixed topics used for the repeated-topic penalty of text actions.
const (
	TopicSimplify   = "simplify"
	TopicParaphrase = "paraphrase"
	TopicTranslate  = "translate"
)

const simplifyExcerptRunes = 120

// Service runs study actions against the engine.
type Service struct {
	engine  *engine.Engine
	gen     Generator
	timeout time.Duration
}

// NewService returns a Service. gen may be nil, in which case every action
// answers with its offline text.
func NewService(e *engine.Engine, gen Generator, timeout time.Duration) *Service {
	return &Service{engine: e, gen: gen, timeout: timeout}
}

// ExplainRequest asks for an explanation of a topic.
type ExplainRequest struct {
	Topic string `json:"topic"`
	Level string `json:"level,omitempty"`
}

// SimplifyRequest asks for a simpler rendition of text.
type SimplifyRequest struct {
	Text string `json:"text"`
}

// ParaphraseRequest asks for a paraphrase of text.
type ParaphraseRequest struct {
	Text string `json:"text"`
}

// TranslateRequest asks for text translated into Lang.
type TranslateRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

// RecordRequest logs an interaction without awarding XP.
type RecordRequest struct {
	Topic      string          `json:"topic"`
	Question   string          `json:"question,omitempty"`
	UserAnswer string          `json:"userAnswer,omitempty"`
	Correct    bool            `json:"correct"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// Result is the outcome of a study action.
type Result struct {
	Text      string
	XPAwarded int64
	// Offline is true when Text is the fallback rather than generated content.
	Offline bool
}

// ExplainBaseXP grows with the topic length: 5 XP per 10 characters, capped at 40.
func ExplainBaseXP(topic string) float64 {
	return 20 + float64(min(40, utf8.RuneCountInString(topic)/10*5))
}

// SimplifyBaseXP grows by 1 XP per 50 characters of text, capped at 20.
func SimplifyBaseXP(text string) float64 {
	return 12 + float64(min(20, utf8.RuneCountInString(text)/50))
}

// Base XP for the fixed-size actions.
const (
	ParaphraseBaseXP = 15
	TranslateBaseXP  = 20
)

// Explain awards XP for studying topic and returns an explanation.
func (s *Service) Explain(ctx context.Context, req ExplainRequest) (Result, error) {
	if req.Topic == "" {
		return Result{}, apperr.Validation("topic required")
	}
	xp := s.earn(ctx, ExplainBaseXP(req.Topic), req.Topic, model.InteractionExplain)
	text, offline := s.generate(ctx, prompts.KindExplain, prompts.Data{Topic: req.Topic, Level: req.Level}, func() string {
		return appI18n.Td(ctx, "ExplainOffline", map[string]any{"Topic": req.Topic})
	})
	return Result{Text: text, XPAwarded: xp, Offline: offline}, nil
}

// Simplify awards XP and returns a simplified version of the text.
func (s *Service) Simplify(ctx context.Context, req SimplifyRequest) (Result, error) {
	if req.Text == "" {
		return Result{}, apperr.Validation("text required")
	}
	xp := s.earn(ctx, SimplifyBaseXP(req.Text), TopicSimplify, model.InteractionSimplify)
	text, offline := s.generate(ctx, prompts.KindSimplify, prompts.Data{Text: req.Text}, func() string {
		return appI18n.Td(ctx, "SimplifyOffline", map[string]any{"Excerpt": excerpt(req.Text, simplifyExcerptRunes)})
	})
	return Result{Text: text, XPAwarded: xp, Offline: offline}, nil
}

// Paraphrase awards XP and returns a paraphrase of the text.
func (s *Service) Paraphrase(ctx context.Context, req ParaphraseRequest) (Result, error) {
	if req.Text == "" {
		return Result{}, apperr.Validation("text required")
	}
	xp := s.earn(ctx, ParaphraseBaseXP, TopicParaphrase, model.InteractionParaphrase)
	text, offline := s.generate(ctx, prompts.KindParaphrase, prompts.Data{Text: req.Text}, func() string {
		return appI18n.Td(ctx, "ParaphraseOffline", map[string]any{"Text": req.Text})
	})
	return Result{Text: text, XPAwarded: xp, Offline: offline}, nil
}

// Translate awards XP and returns the text translated into the requested language.
func (s *Service) Translate(ctx context.Context, req TranslateRequest) (Result, error) {
	if req.Text == "" || req.Lang == "" {
		return Result{}, apperr.Validation("text and lang required")
	}
	xp := s.earn(ctx, TranslateBaseXP, TopicTranslate, model.InteractionTranslate)
	text, offline := s.generate(ctx, prompts.KindTranslate, prompts.Data{Text: req.Text, Lang: req.Lang}, func() string {
		return appI18n.Td(ctx, "TranslateOffline", map[string]any{"Text": req.Text, "Lang": req.Lang})
	})
	return Result{Text: text, XPAwarded: xp, Offline: offline}, nil
}

// Record appends a raw interaction. It does not award XP.
func (s *Service) Record(ctx context.Context, req RecordRequest) (model.InteractionRecord, error) {
	if req.Topic == "" {
		return model.InteractionRecord{}, apperr.Validation("topic required")
	}
	meta := req.Meta
	if len(meta) == 0 || string(meta) == "null" {
		meta = json.RawMessage(`{}`)
	}
	correct := req.Correct

	var rec model.InteractionRecord
	err := s.engine.Update(ctx, func(tx *engine.Tx) error {
		rec = tx.AddInteraction(model.InteractionRecord{
			Topic:      req.Topic,
			Type:       model.InteractionManual,
			Question:   req.Question,
			UserAnswer: req.UserAnswer,
			Correct:    &correct,
			Meta:       meta,
		})
		return nil
	})
	return rec, err
}

// earn awards base XP for the action and logs the interaction afterwards,
// so the current action does not count toward its own spam penalty.
func (s *Service) earn(ctx context.Context, base float64, topic string, kind model.InteractionType) int64 {
	var xp int64
	_ = s.engine.Update(ctx, func(tx *engine.Tx) error {
		xp = tx.Award(base, engine.AwardOptions{
			Topic:      topic,
			Reason:     string(kind),
			IsEliteDay: tx.IsEliteDay(),
		})
		tx.AddInteraction(model.InteractionRecord{Topic: topic, Type: kind})
		return nil
	})
	return xp
}

// generate asks the generator for content and falls back to offline text
// when it is missing, fails or returns nothing.
func (s *Service) generate(ctx context.Context, kind prompts.Kind, data prompts.Data, fallback func() string) (string, bool) {
	if s.gen == nil {
		return fallback(), true
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	text, err := s.gen.Generate(ctx, kind, data)
	if err != nil {
		if !errors.Is(err, llm.ErrDisabled) {
			slog.Warn("content generation failed, using offline text", "kind", kind, "error", err)
		}
		return fallback(), true
	}
	if strings.TrimSpace(text) == "" {
		return fallback(), true
	}
	return text, false
}

func excerpt(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
