package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/onimate/internal/llm/prompts"
	"github.com/pavelanni/onimate/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

// ErrDisabled is returned when no API key was configured.
var ErrDisabled = errors.New("llm: content generation disabled")

// ErrEmpty is returned when the model produced no usable content.
var ErrEmpty = errors.New("llm: empty response")

// GeneratedQuestion is one quiz question as returned by the model.
type GeneratedQuestion struct {
	Prompt     string `json:"prompt"`
	Q          string `json:"q"`
	Answer     string `json:"answer"`
	Difficulty string `json:"difficulty"`
	Topic      string `json:"topic"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client. An empty apiKey yields a disabled client
// whose calls return ErrDisabled.
func New(baseURL, apiKey, modelName string) *Client {
	if apiKey == "" {
		return &Client{model: modelName}
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Enabled reports whether the client can reach a model.
func (c *Client) Enabled() bool {
	return c != nil && c.api != nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Ping checks that the endpoint answers and knows the configured model.
func (c *Client) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	models, err := c.api.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	for _, m := range models.Models {
		if m.ID == c.model {
			return nil
		}
	}
	slog.Warn("configured model not listed by endpoint", "model", c.model, "available", len(models.Models))
	return nil
}

// Complete sends a single system + user prompt and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	return c.chat(ctx, system, prompt, nil, 0.7)
}

// Generate renders the prompt of the given kind and completes it.
func (c *Client) Generate(ctx context.Context, kind prompts.Kind, data prompts.Data) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	prompt, err := prompts.Build(kind, data)
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, prompts.System(kind), prompt)
}

// GenerateQuestions asks the model for n quiz questions drawn from topics.
// Questions without a prompt are dropped; a missing difficulty becomes
// medium and a missing topic is taken round-robin from topics.
func (c *Client) GenerateQuestions(ctx context.Context, topics []string, n int) ([]model.Question, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	prompt, err := prompts.Build(prompts.KindQuiz, prompts.Data{Topics: topics, Count: n})
	if err != nil {
		return nil, err
	}
	format := &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	raw, err := c.chat(ctx, prompts.System(prompts.KindQuiz), prompt, format, 0.4)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseQuestions(raw)
	if err != nil {
		return nil, err
	}
	return toQuestions(parsed, topics), nil
}

func (c *Client) chat(ctx context.Context, system, prompt string, format *openai.ChatCompletionResponseFormat, temperature float32) (string, error) {
	if !c.Enabled() {
		return "", ErrDisabled
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: format,
		Temperature:    temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("LLM response", "raw", raw)
	if raw == "" {
		return "", ErrEmpty
	}
	return raw, nil
}

// ParseQuestions decodes a model reply that should contain quiz questions.
// It accepts a bare JSON array or an object with a "questions" array, and
// tolerates surrounding markdown code fences.
func ParseQuestions(raw string) ([]GeneratedQuestion, error) {
	body := stripCodeFence(raw)
	if body == "" {
		return nil, ErrEmpty
	}

	var list []GeneratedQuestion
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &list); err != nil {
			return nil, fmt.Errorf("parse questions: %w (raw: %s)", err, raw)
		}
	} else {
		var wrapped struct {
			Questions []GeneratedQuestion `json:"questions"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("parse questions: %w (raw: %s)", err, raw)
		}
		list = wrapped.Questions
	}

	var out []GeneratedQuestion
	for _, q := range list {
		if q.Prompt == "" {
			q.Prompt = q.Q
		}
		if strings.TrimSpace(q.Prompt) == "" {
			continue
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, ErrEmpty
	}
	return out, nil
}

func toQuestions(parsed []GeneratedQuestion, topics []string) []model.Question {
	out := make([]model.Question, 0, len(parsed))
	for i, p := range parsed {
		diff := model.Difficulty(strings.ToLower(strings.TrimSpace(p.Difficulty)))
		if diff == "" {
			diff = model.DifficultyMedium
		}
		topic := p.Topic
		if topic == "" && len(topics) > 0 {
			topic = topics[i%len(topics)]
		}
		out = append(out, model.Question{
			ID:         fmt.Sprintf("ai-%d", i+1),
			Prompt:     strings.TrimSpace(p.Prompt),
			Answer:     p.Answer,
			Difficulty: diff,
			Topic:      topic,
		})
	}
	return out
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
