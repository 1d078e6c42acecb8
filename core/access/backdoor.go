package access

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// BackdoorMiddlewareBuilder configures NewBackdoorMiddleware
type BackdoorMiddlewareBuilder struct {
	// Backdoors is a mapping from a bearer token to an authorization
	Backdoors map[string]Authorization
}

// NewBackdoorMiddleware returns a middleware that authorizes requests
// by a fixed token map. It exists for tests and local development only;
// with curl, use -H 'Authorization: Bearer please' or pass a cookie
// with -b 'Un0-JWT=please'.
func NewBackdoorMiddleware(bmb *BackdoorMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth := AuthorizationFromContext(r.Context()); auth != nil {
				h.ServeHTTP(w, r)
				return
			}
			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				}
			} else if cookie, _ := r.Cookie(CookieName); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r)
				return
			}

			if auth, ok := bmb.Backdoors[tokenString]; ok {
				ctx := auth.ContextWithAuthorization(r.Context())
				r = r.WithContext(ctx)
			}
			h.ServeHTTP(w, r)
		})
	}
}
