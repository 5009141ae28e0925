package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mreyes/signalrunner/config"
)

// AuthMiddleware gates the operator surface behind the optional
// OPERATOR_PASSWORD (spec.md §6 "protected by optional password"). It
// accepts the password via the X-Operator-Password header or a `password`
// query parameter, compared with subtle.ConstantTimeCompare so its content
// does not leak through response timing (a supplied value of a different
// length is rejected without a byte-by-byte comparison).
func AuthMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.OperatorPassword == "" {
				next.ServeHTTP(w, r)
				return
			}

			supplied := r.Header.Get("X-Operator-Password")
			if supplied == "" {
				supplied = r.URL.Query().Get("password")
			}

			if subtle.ConstantTimeCompare([]byte(supplied), []byte(cfg.OperatorPassword)) != 1 {
				log.Warn().Str("ip", r.RemoteAddr).Str("path", r.URL.Path).Msg("rejected operator request: bad password")
				writeError(w, http.StatusUnauthorized, "unauthorized", "UNAUTHORIZED")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
