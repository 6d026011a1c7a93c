package handler

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/scanmark/scanmark/internal/i18n"
)

// authMiddleware enforces HTTP basic auth against the configured API
// password. With no password configured, requests pass through.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.passwordHash == nil {
			next.ServeHTTP(w, r)
			return
		}
		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword(h.passwordHash, []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="scanmark"`)
			http.Error(w, appI18n.T(r.Context(), "ErrUnauthorized"), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
