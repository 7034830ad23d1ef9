package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		code   string
		status int
		msg    string
	}{
		{"validation", Validation("%s required", "topic"), CodeValidation, http.StatusBadRequest, "VALIDATION_ERROR: topic required"},
		{"conflict", Conflict("session already completed"), CodeConflict, http.StatusConflict, "CONFLICT: session already completed"},
		{"not found", NotFound("test session", "abc"), CodeNotFound, http.StatusNotFound, "NOT_FOUND: test session not found: abc"},
		{"unauthorized", Unauthorized("bad password"), CodeUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED: bad password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.msg, tt.err.Error())
		})
	}
}

func TestFromAndIs(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", Conflict("already done"))
	assert.True(t, Is(wrapped, CodeConflict))
	assert.False(t, Is(wrapped, CodeNotFound))
	assert.Equal(t, http.StatusConflict, From(wrapped).Status)

	plain := errors.New("disk on fire")
	e := From(plain)
	assert.Equal(t, CodeInternal, e.Code)
	assert.ErrorIs(t, e, plain)
}
