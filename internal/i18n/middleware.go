package i18n

import "net/http"

// Middleware injects the localizer for the given language into every request context.
func Middleware(lang string) func(http.Handler) http.Handler {
	loc := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Prefer the client's requested language when given.
			l := loc
			if al := r.Header.Get("Accept-Language"); al != "" {
				l = NewLocalizer(al)
			}
			ctx := WithLocalizer(r.Context(), l)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
