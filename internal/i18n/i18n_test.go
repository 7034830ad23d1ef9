package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "ExplainOffline", map[string]any{"Topic": "gravity"})
	if got != "Explanation (offline): gravity - try study notes." {
		t.Errorf("Td(ExplainOffline) = %q", got)
	}

	got = T(ctx, "NoActiveFocus")
	if got != "No active focus" {
		t.Errorf("T(NoActiveFocus) = %q, want 'No active focus'", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := Td(ctx, "ParaphraseOffline", map[string]any{"Text": "кот"})
	if got != "кот (перефразировано офлайн)" {
		t.Errorf("Td(ParaphraseOffline) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "TestsTaken", 1); got != "1 test taken" {
		t.Errorf("Tp(TestsTaken, 1) = %q, want '1 test taken'", got)
	}
	if got := Tp(ctx, "TestsTaken", 5); got != "5 tests taken" {
		t.Errorf("Tp(TestsTaken, 5) = %q, want '5 tests taken'", got)
	}

	ru := initLang(t, "ru")
	if got := Tp(ru, "TestsTaken", 5); got != "Пройдено 5 тестов" {
		t.Errorf("Tp(TestsTaken, 5) ru = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestContextWithoutLocalizerUsesDefault(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	got := Td(context.Background(), "TranslateOffline", map[string]any{"Text": "hi", "Lang": "fr"})
	if got != "hi (translated offline to fr)" {
		t.Errorf("Td(TranslateOffline) = %q", got)
	}
}

func TestInitRejectsBadTag(t *testing.T) {
	if err := Init("not a language!"); err == nil {
		t.Error("expected error for invalid language tag")
	}
}

func TestLanguages(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	if n := len(Languages()); n != 2 {
		t.Errorf("Languages() = %d tags, want 2", n)
	}
}

func TestMiddlewareHonoursAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatal(err)
	}
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "NoActiveFocus")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Нет активной фокус-сессии" {
		t.Errorf("ru request got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "No active focus" {
		t.Errorf("default request got %q", got)
	}
}
