package auth

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/af-corp/inkwell/internal/httputil"
	"github.com/af-corp/inkwell/internal/types"
)

// Middleware authenticates requests via a Bearer API key.
func Middleware(store KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				httputil.WriteAuthError(w, reqID, "Missing Authorization header. Use: Authorization: Bearer <api-key>")
				return
			}
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				httputil.WriteAuthError(w, reqID, "Invalid Authorization format. Use: Authorization: Bearer <api-key>")
				return
			}
			if token == "" {
				httputil.WriteAuthError(w, reqID, "Empty API key")
				return
			}

			meta, err := store.Lookup(r.Context(), HashKey(token))
			if err != nil {
				slog.Error("key lookup failed", "error", err, "key_prefix", KeyPrefix(token))
				httputil.WriteInternalError(w, reqID, "Internal error during authentication")
				return
			}
			if meta == nil || meta.Expired(time.Now()) {
				slog.Warn("auth failed: key not found or expired", "key_prefix", KeyPrefix(token))
				httputil.WriteAuthError(w, reqID, "Invalid API key")
				return
			}

			ctx := ContextWithIdentity(r.Context(), &Identity{KeyID: meta.ID, Actor: meta.Actor()})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DevMiddleware treats every request as coming from actorID. It is used when
// authentication is disabled for local development.
func DevMiddleware(actorID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := &Identity{KeyID: "dev", Actor: types.Actor{ID: actorID, Roles: []string{"admin"}}}
			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), id)))
		})
	}
}
