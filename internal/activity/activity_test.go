package activity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/onimate/internal/apperr"
	"github.com/pavelanni/onimate/internal/engine"
	"github.com/pavelanni/onimate/internal/llm"
	"github.com/pavelanni/onimate/internal/llm/prompts"
	"github.com/pavelanni/onimate/internal/model"
	"github.com/pavelanni/onimate/internal/store"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, kind prompts.Kind, data prompts.Data) (string, error) {
	args := m.Called(ctx, kind, data)
	return args.String(0), args.Error(1)
}

var (
	monday   = time.Date(2024, 3, 11, 10, 0, 0, 0, time.UTC)
	saturday = time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T, at time.Time, gen Generator) (*Service, *engine.Engine) {
	t.Helper()
	e := engine.New(nil, store.NewMemory(), engine.WithClock(func() time.Time { return at }))
	return NewService(e, gen, time.Second), e
}

func TestBaseXP(t *testing.T) {
	assert.Equal(t, 20.0, ExplainBaseXP("cells"))
	assert.Equal(t, 25.0, ExplainBaseXP("photosynthesis"))
	assert.Equal(t, 55.0, ExplainBaseXP(strings.Repeat("a", 79)))
	assert.Equal(t, 60.0, ExplainBaseXP(strings.Repeat("a", 80)))
	assert.Equal(t, 60.0, ExplainBaseXP(strings.Repeat("a", 500)))
	assert.Equal(t, 25.0, ExplainBaseXP(strings.Repeat("ж", 10)), "counts characters, not bytes")

	assert.Equal(t, 12.0, SimplifyBaseXP(strings.Repeat("a", 49)))
	assert.Equal(t, 13.0, SimplifyBaseXP(strings.Repeat("a", 50)))
	assert.Equal(t, 32.0, SimplifyBaseXP(strings.Repeat("a", 5000)))
}

func TestExplainOffline(t *testing.T) {
	svc, e := newTestService(t, monday, nil)

	res, err := svc.Explain(context.Background(), ExplainRequest{Topic: "photosynthesis"})
	require.NoError(t, err)
	assert.Equal(t, "Explanation (offline): photosynthesis - try study notes.", res.Text)
	assert.Equal(t, int64(25), res.XPAwarded)
	assert.True(t, res.Offline)

	st := e.Snapshot()
	require.Len(t, st.Interactions, 1)
	assert.Equal(t, "photosynthesis", st.Interactions[0].Topic)
	assert.Equal(t, model.InteractionExplain, st.Interactions[0].Type)
	assert.Equal(t, int64(25), st.TotalExp)
}

func TestExplainRepeatedTopicPenalty(t *testing.T) {
	svc, _ := newTestService(t, monday, nil)
	ctx := context.Background()

	var got []int64
	for i := 0; i < 5; i++ {
		res, err := svc.Explain(ctx, ExplainRequest{Topic: "photosynthesis"})
		require.NoError(t, err)
		got = append(got, res.XPAwarded)
	}
	// The fifth call sees four earlier interactions: 25 * 0.9 = 22.5.
	assert.Equal(t, []int64{25, 25, 25, 25, 23}, got)
}

func TestExplainEliteDay(t *testing.T) {
	svc, _ := newTestService(t, saturday, nil)
	res, err := svc.Explain(context.Background(), ExplainRequest{Topic: "cells"})
	require.NoError(t, err)
	assert.Equal(t, int64(22), res.XPAwarded)
}

func TestExplainUsesGenerator(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, prompts.KindExplain, prompts.Data{Topic: "entropy", Level: "advanced"}).
		Return("Entropy measures disorder.", nil)
	svc, _ := newTestService(t, monday, gen)

	res, err := svc.Explain(context.Background(), ExplainRequest{Topic: "entropy", Level: "advanced"})
	require.NoError(t, err)
	assert.Equal(t, "Entropy measures disorder.", res.Text)
	assert.False(t, res.Offline)
	gen.AssertExpectations(t)
}

func TestGeneratorFailureFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"error", "", errors.New("503 service unavailable")},
		{"disabled", "", llm.ErrDisabled},
		{"blank reply", "   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(mockGenerator)
			gen.On("Generate", mock.Anything, prompts.KindParaphrase, mock.Anything).Return(tt.reply, tt.err)
			svc, _ := newTestService(t, monday, gen)

			res, err := svc.Paraphrase(context.Background(), ParaphraseRequest{Text: "The cat sat."})
			require.NoError(t, err)
			assert.Equal(t, "The cat sat. (paraphrased offline)", res.Text)
			assert.Equal(t, int64(ParaphraseBaseXP), res.XPAwarded)
			assert.True(t, res.Offline)
		})
	}
}

func TestSimplifyOffline(t *testing.T) {
	svc, e := newTestService(t, monday, nil)
	text := strings.Repeat("abcdefghij", 13)

	res, err := svc.Simplify(context.Background(), SimplifyRequest{Text: text})
	require.NoError(t, err)
	assert.Equal(t, "Simplified (offline): "+text[:120]+"...", res.Text)
	assert.Equal(t, int64(14), res.XPAwarded)
	assert.Equal(t, TopicSimplify, e.Snapshot().Interactions[0].Topic)
}

func TestTranslateOffline(t *testing.T) {
	svc, e := newTestService(t, monday, nil)

	res, err := svc.Translate(context.Background(), TranslateRequest{Text: "hello", Lang: "es"})
	require.NoError(t, err)
	assert.Equal(t, "hello (translated offline to es)", res.Text)
	assert.Equal(t, int64(20), res.XPAwarded)
	assert.Equal(t, model.InteractionTranslate, e.Snapshot().Interactions[0].Type)
}

func TestValidation(t *testing.T) {
	svc, e := newTestService(t, monday, nil)
	ctx := context.Background()

	_, err := svc.Explain(ctx, ExplainRequest{})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	_, err = svc.Simplify(ctx, SimplifyRequest{})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	_, err = svc.Paraphrase(ctx, ParaphraseRequest{})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	_, err = svc.Translate(ctx, TranslateRequest{Text: "hi"})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))
	_, err = svc.Record(ctx, RecordRequest{})
	assert.True(t, apperr.Is(err, apperr.CodeValidation))

	st := e.Snapshot()
	assert.Zero(t, st.TotalExp)
	assert.Empty(t, st.Interactions)
	assert.Nil(t, st.LastStudyISO)
}

func TestWhitespaceTopicIsAccepted(t *testing.T) {
	svc, e := newTestService(t, monday, nil)
	ctx := context.Background()

	res, err := svc.Explain(ctx, ExplainRequest{Topic: "   "})
	require.NoError(t, err)
	assert.Equal(t, int64(20), res.XPAwarded)

	_, err = svc.Record(ctx, RecordRequest{Topic: " "})
	require.NoError(t, err)

	st := e.Snapshot()
	require.Len(t, st.Interactions, 2)
	assert.Equal(t, "   ", st.Interactions[0].Topic)
	assert.Equal(t, " ", st.Interactions[1].Topic)
}

func TestRecord(t *testing.T) {
	svc, e := newTestService(t, monday, nil)

	rec, err := svc.Record(context.Background(), RecordRequest{Topic: "algebra", Question: "2x=4?", UserAnswer: "2", Correct: true})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, monday, rec.Date)
	require.NotNil(t, rec.Correct)
	assert.True(t, *rec.Correct)
	assert.JSONEq(t, `{}`, string(rec.Meta))

	st := e.Snapshot()
	assert.Zero(t, st.TotalExp)
	assert.Nil(t, st.LastStudyISO)
	assert.Len(t, st.Interactions, 1)
}
