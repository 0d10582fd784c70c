// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/rs/zerolog/log"
)

// TokenAuth guards the API with a shared token. Requests carry it in the
// X-Api-Token header or an apikey query parameter. When no token is
// configured every request passes.
func TokenAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get("X-Api-Token")
			if provided == "" {
				provided = r.URL.Query().Get("apikey")
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				log.Warn().Str("remote", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rejected request with invalid API token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
