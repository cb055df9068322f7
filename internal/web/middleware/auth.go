package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/moneyfest/internal/core"
)

// APIKeyAuth returns middleware that validates the X-API-Key header against
// keys, a map of key to actor name. The matching name is stored as the
// actor on the request context. Browsers cannot set headers on a websocket
// handshake, so the api_key query parameter is accepted as well.
//
// If require is false, requests without a key pass through as the system
// actor; a key that is sent must still be valid.
func APIKeyAuth(require bool, keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				apiKey = r.URL.Query().Get("api_key")
			}

			if apiKey == "" {
				if !require {
					next.ServeHTTP(w, r)
					return
				}
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			actor, ok := lookupAPIKey(apiKey, keys)
			if !ok {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			ctx := core.ContextWithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// lookupAPIKey compares key against every configured key in constant time,
// so the time taken does not reveal which key matched.
func lookupAPIKey(key string, keys map[string]string) (string, bool) {
	var actor string
	found := 0
	for valid, name := range keys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			actor = name
			found = 1
		}
	}
	return actor, found == 1
}

func writeAuthError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `","message":"` + message + `","code":"` + code + `"}`))
}
