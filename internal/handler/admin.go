package handler

import (
	"log/slog"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/onimate/internal/apperr"
)

// AdminPasswordHeader carries the admin password on admin routes.
const AdminPasswordHeader = "X-Admin-Password"

// requireAdmin checks the admin password when one is configured.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.AdminPasswordHash) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		pw := r.Header.Get(AdminPasswordHeader)
		if pw == "" || bcrypt.CompareHashAndPassword(h.AdminPasswordHash, []byte(pw)) != nil {
			slog.Warn("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			handleError(w, r, apperr.Unauthorized("invalid admin password"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	// A pending focus timer would otherwise fire against the fresh state.
	h.Focus.Close()
	h.Engine.Reset(r.Context())
	slog.Info("user state reset by admin", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HashPassword returns a bcrypt hash of password, or nil when it is empty.
func HashPassword(password string) ([]byte, error) {
	if password == "" {
		return nil, nil
	}
	return bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
}
