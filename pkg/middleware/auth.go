package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"paykiosk/pkg/errors"
)

// KeyHeader carries the shared key of the local UI
const KeyHeader = "X-Kiosk-Key"

var errKeyRejected = errors.New(errors.ErrTypeAuth, "KIOSK_KEY_REJECTED", "control API key missing or wrong").
	WithUserMessage("Unauthorized")

// RequireKey rejects requests without the shared key. An empty key
// disables the check.
func RequireKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(KeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusUnauthorized, errKeyRejected)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errors.ToFrontendError(err))
}
