package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/onimate/internal/activity"
	"github.com/pavelanni/onimate/internal/apperr"
	"github.com/pavelanni/onimate/internal/engine"
	"github.com/pavelanni/onimate/internal/focus"
	"github.com/pavelanni/onimate/internal/handler/views"
	"github.com/pavelanni/onimate/internal/i18n"
	"github.com/pavelanni/onimate/internal/quiz"
	"github.com/pavelanni/onimate/internal/rank"
)

// Generation reports whether generated content is available.
type Generation interface {
	Enabled() bool
	Model() string
}

// Deps are the services the handlers call into.
type Deps struct {
	Engine   *engine.Engine
	Activity *activity.Service
	Focus    *focus.Manager
	Quiz     *quiz.Service
	// Generation may be nil.
	Generation Generation
	// AdminPasswordHash is a bcrypt hash. Empty leaves admin routes open.
	AdminPasswordHash []byte
	// Backend names the snapshot store, reported by /healthz.
	Backend string
	// Ping checks the snapshot store. It may be nil.
	Ping func(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	Deps
}

// New creates a new Handler.
func New(d Deps) (*Handler, error) {
	switch {
	case d.Engine == nil:
		return nil, errors.New("handler: engine is required")
	case d.Activity == nil:
		return nil, errors.New("handler: activity service is required")
	case d.Focus == nil:
		return nil, errors.New("handler: focus manager is required")
	case d.Quiz == nil:
		return nil, errors.New("handler: quiz service is required")
	}
	return &Handler{Deps: d}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/healthz", h.handleHealth)
	r.Get("/profile", h.handleProfile)
	r.Get("/ranks", h.handleRanks)
	r.Post("/record", h.handleRecord)

	r.Post("/explain", h.handleExplain)
	r.Post("/simplify", h.handleSimplify)
	r.Post("/paraphrase", h.handleParaphrase)
	r.Post("/translate", h.handleTranslate)

	r.Route("/focus", func(r chi.Router) {
		r.Post("/start", h.handleFocusStart)
		r.Get("/status", h.handleFocusStatus)
		r.Post("/end", h.handleFocusEnd)
	})

	r.Route("/test", func(r chi.Router) {
		r.Post("/start", h.handleTestStart)
		r.Post("/submit", h.handleTestSubmit)
		r.Get("/{sessionID}/review", h.handleTestReview)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/reset", h.handleAdminReset)
	})
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := h.Engine.Profile()
	st := h.Focus.Status()

	data := views.StatusData{
		Title:   i18n.T(ctx, "AppTitle"),
		Running: i18n.T(ctx, "BackendRunning"),
		Rank:    fmt.Sprintf("%s: %s, %s %d", i18n.T(ctx, "Rank"), p.Rank.RankName, i18n.T(ctx, "Level"), p.Rank.Level),
		TotalXP: fmt.Sprintf("%s: %d", i18n.T(ctx, "TotalXP"), p.TotalExp),
		Streak:  i18n.Tp(ctx, "StreakDays", p.StreakCount),
		Tests:   i18n.Tp(ctx, "TestsTaken", p.TestsTaken),
	}
	if h.Engine.IsEliteDay() {
		data.EliteDay = i18n.T(ctx, "EliteDay")
	}
	if st.Active {
		data.Focus = i18n.Td(ctx, "FocusRemaining", map[string]any{"TimeLeft": st.TimeLeft})
	}
	if h.Generation != nil && h.Generation.Enabled() {
		data.Generation = i18n.Td(ctx, "ContentGenerationOn", map[string]any{"Model": h.Generation.Model()})
	} else {
		data.Generation = i18n.T(ctx, "ContentGenerationOff")
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.StatusPage(data).Render(ctx, w); err != nil {
		slog.Error("render error", "error", err)
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			slog.Error("store health check failed", "backend", h.Backend, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "store": h.Backend})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "store": h.Backend})
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Engine.Profile())
}

func (h *Handler) handleRanks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ranks": rank.Table()})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req activity.RecordRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	item, err := h.Activity.Record(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "item": item})
}

func (h *Handler) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req activity.ExplainRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	res, err := h.Activity.Explain(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"explanation": res.Text, "xpAwarded": res.XPAwarded})
}

func (h *Handler) handleSimplify(w http.ResponseWriter, r *http.Request) {
	var req activity.SimplifyRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	res, err := h.Activity.Simplify(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"simplified": res.Text, "xpAwarded": res.XPAwarded})
}

func (h *Handler) handleParaphrase(w http.ResponseWriter, r *http.Request) {
	var req activity.ParaphraseRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	res, err := h.Activity.Paraphrase(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paraphrased": res.Text, "xpAwarded": res.XPAwarded})
}

func (h *Handler) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req activity.TranslateRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	res, err := h.Activity.Translate(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"translated": res.Text, "xpAwarded": res.XPAwarded})
}

type focusStartRequest struct {
	Pomodoro *bool `json:"pomodoro"`
}

func (h *Handler) handleFocusStart(w http.ResponseWriter, r *http.Request) {
	var req focusStartRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	pomodoro := true
	if req.Pomodoro != nil {
		pomodoro = *req.Pomodoro
	}
	res, err := h.Focus.Start(r.Context(), pomodoro)
	if err != nil {
		if apperr.Is(err, apperr.CodeConflict) {
			err = apperr.Conflict("%s", i18n.T(r.Context(), "FocusAlreadyActive"))
		}
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleFocusStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Focus.Status())
}

func (h *Handler) handleFocusEnd(w http.ResponseWriter, r *http.Request) {
	res := h.Focus.End(r.Context())
	if !res.OK {
		res.Message = i18n.T(r.Context(), "NoActiveFocus")
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleTestStart(w http.ResponseWriter, r *http.Request) {
	var req quiz.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	res, err := h.Quiz.Start(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleTestSubmit(w http.ResponseWriter, r *http.Request) {
	var req quiz.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	res, err := h.Quiz.Submit(r.Context(), req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleTestReview(w http.ResponseWriter, r *http.Request) {
	sess, err := h.Quiz.Review(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}
