package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"text/template"
	"unicode/utf8"
)

//go:embed templates/*.txt
var templateFS embed.FS

var userTextRegex = regexp.MustCompile(`(?i)</?\s*(user-text|system-instructions)\b[^>]*>`)

// Kind names a prompt template.
type Kind string

const (
	KindExplain    Kind = "explain"
	KindSimplify   Kind = "simplify"
	KindParaphrase Kind = "paraphrase"
	KindTranslate  Kind = "translate"
	KindQuiz       Kind = "quiz"
)

// Kinds lists every prompt template.
var Kinds = []Kind{KindExplain, KindSimplify, KindParaphrase, KindTranslate, KindQuiz}

var systemPrompts = map[Kind]string{
	KindExplain:    "You are a patient study tutor.",
	KindSimplify:   "You are a simplifying assistant.",
	KindParaphrase: "You are a paraphrasing assistant.",
	KindTranslate:  "You are a translation assistant.",
	KindQuiz:       "You are a quiz generator. Respond only with JSON.",
}

// DefaultLevel is the explanation depth used when none is requested.
const DefaultLevel = "intermediate"

const maxTextRunes = 10000

var (
	loadOnce  sync.Once
	loadErr   error
	templates map[Kind]*template.Template
)

// Data holds template data for every prompt kind. Unused fields are ignored.
type Data struct {
	Topic  string
	Level  string
	Text   string
	Lang   string
	Topics []string
	Count  int
}

// Load parses the prompt templates from fsys. Only the first call has any
// effect; Build loads the embedded templates if Load was never called.
func Load(fsys fs.FS) error {
	loadOnce.Do(func() {
		templates = make(map[Kind]*template.Template)
		for _, k := range Kinds {
			file := "templates/" + string(k) + ".txt"
			content, err := fs.ReadFile(fsys, file)
			if err != nil {
				loadErr = errors.New("failed to read prompt file " + file + ": " + err.Error())
				return
			}
			tmpl, err := template.New(string(k)).Parse(string(content))
			if err != nil {
				loadErr = errors.New("failed to parse prompt template " + file + ": " + err.Error())
				return
			}
			templates[k] = tmpl
		}
	})
	return loadErr
}

// System returns the system instruction for a prompt kind.
func System(k Kind) string {
	if s, ok := systemPrompts[k]; ok {
		return s
	}
	return "You are a helpful tutor."
}

// Build renders the user prompt of the given kind.
func Build(k Kind, data Data) (string, error) {
	if err := Load(templateFS); err != nil {
		return "", fmt.Errorf("templates load failed: %w", err)
	}
	tmpl, ok := templates[k]
	if !ok {
		return "", errors.New("unknown prompt kind: " + string(k))
	}

	if data.Level == "" {
		data.Level = DefaultLevel
	}
	data.Topic = sanitize(data.Topic)
	data.Text = sanitize(data.Text)
	data.Lang = sanitize(data.Lang)
	topics := make([]string, 0, len(data.Topics))
	for _, t := range data.Topics {
		if t = sanitize(t); t != "" {
			topics = append(topics, t)
		}
	}
	data.Topics = topics

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func sanitize(s string) string {
	s = userTextRegex.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxTextRunes {
		runes := []rune(s)
		s = string(runes[:maxTextRunes]) + "\n\n[Text truncated due to length]"
	}
	return s
}
