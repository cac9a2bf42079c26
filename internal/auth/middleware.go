package auth

import (
	"context"
	"log"
	"net/http"
	"strings"
)

type contextKey string

const operatorKey contextKey = "operator"

// WithOperator stamps the validated key onto the request context.
func WithOperator(ctx context.Context, key *OperatorKey) context.Context {
	return context.WithValue(ctx, operatorKey, key)
}

// GetOperator returns the key that authenticated the request, if any.
func GetOperator(ctx context.Context) (*OperatorKey, bool) {
	key, ok := ctx.Value(operatorKey).(*OperatorKey)
	return key, ok
}

var authLogger = log.New(log.Writer(), "[AUTH] ", log.LstdFlags)

// Middleware enforces operator keys on the wrapped routes. With an empty
// keyring it passes everything through so a bare kiosk works out of the box.
func (k *Keyring) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if k.Empty() {
			next.ServeHTTP(w, r)
			return
		}

		key, err := k.Validate(bearerToken(r))
		if err != nil {
			authLogger.Printf("⚠️ rejected %s %s: %v", r.Method, r.URL.Path, err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"invalid or missing api key"}`))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), key)))
	})
}

// bearerToken pulls the key from Authorization: Bearer or X-Api-Key.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("X-Api-Key")
}
