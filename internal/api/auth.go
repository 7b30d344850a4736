package api

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"math/big"
	"net/http"
	"strings"
)

// ClientSecretLength is the number of characters in a client secret.
const ClientSecretLength = 8

// ClientSecret derives the join proof for clientID: the SHA-256 of
// serverSecret+clientID read as a big-endian integer, printed in upper-case
// base 36 and cut to ClientSecretLength characters.
func ClientSecret(serverSecret, clientID string) string {
	sum := sha256.Sum256([]byte(serverSecret + clientID))
	encoded := strings.ToUpper(new(big.Int).SetBytes(sum[:]).Text(36))
	if len(encoded) > ClientSecretLength {
		encoded = encoded[:ClientSecretLength]
	}
	return encoded
}

// VerifyClientSecret reports whether proof is the secret for clientID.
func VerifyClientSecret(serverSecret, clientID, proof string) bool {
	want := ClientSecret(serverSecret, clientID)
	return subtle.ConstantTimeCompare([]byte(want), []byte(proof)) == 1
}

type tokenKey struct{}

// tokenFromContext returns the bearer token stored by RequireBearer.
func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}

// RequireBearer extracts "Authorization: Bearer <token>" into the request
// context. A missing header is 401, a malformed one 400.
func RequireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(w, "Invalid Authorization header format", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), tokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireOperator rejects requests whose X-Secret header does not match the
// server secret.
func RequireOperator(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Secret")
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
