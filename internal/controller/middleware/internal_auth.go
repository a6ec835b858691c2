// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"jobrelay/internal/auth"
	"jobrelay/pkg/api"
)

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: strconv.Itoa(code)})
}

// RequireInternalAuth ensures the request carries the service secret as a
// bearer token.
func RequireInternalAuth(systemSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				writeError(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if !auth.SecretMatches(parts[1], systemSecret) {
				writeError(w, "Invalid authorization token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
