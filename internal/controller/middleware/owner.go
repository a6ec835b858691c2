package middleware

import (
	"context"
	"net/http"
	"strings"

	"jobrelay/pkg/api"
)

// maxOwnerIDLength bounds the owner header.
const maxOwnerIDLength = 255

// ownerIDKey is the context key for the owner ID.
type ownerIDKey struct{}

// RequireOwner extracts the owner from the X-Owner-ID header. Every job
// operation is scoped by it.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ownerID := strings.TrimSpace(r.Header.Get(api.OwnerHeader))
		if ownerID == "" {
			writeError(w, "Missing "+api.OwnerHeader+" header", http.StatusUnauthorized)
			return
		}
		if len(ownerID) > maxOwnerIDLength {
			writeError(w, "Invalid "+api.OwnerHeader+" header", http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r.WithContext(NewContextWithOwner(r.Context(), ownerID)))
	})
}

// NewContextWithOwner stores ownerID in ctx.
func NewContextWithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey{}, ownerID)
}

// OwnerIDFromContext extracts the owner ID from the context.
func OwnerIDFromContext(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ownerIDKey{}).(string)
	return ownerID, ok && ownerID != ""
}
