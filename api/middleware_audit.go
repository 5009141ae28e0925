package api

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	auditIPKey    contextKey = "audit_ip"
	auditKeyIDKey contextKey = "audit_key_id"
)

// AuditMiddleware injects audit context (IP address, operator password
// identifier) into the request context for downstream logging. The
// identifier is a truncated SHA-256 hash, safe for logging without
// exposing the password itself.
func AuditMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = context.WithValue(ctx, auditIPKey, r.RemoteAddr)

		password := r.Header.Get("X-Operator-Password")
		keyID := "no-password"
		if password != "" {
			hash := sha256.Sum256([]byte(password))
			keyID = fmt.Sprintf("%x", hash[:4])
		}
		ctx = context.WithValue(ctx, auditKeyIDKey, keyID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuditIPFromCtx extracts the requestor IP from context.
func AuditIPFromCtx(ctx context.Context) string {
	if ip, ok := ctx.Value(auditIPKey).(string); ok {
		return ip
	}
	return "unknown"
}

// AuditKeyIDFromCtx extracts the operator password identifier from context.
func AuditKeyIDFromCtx(ctx context.Context) string {
	if keyID, ok := ctx.Value(auditKeyIDKey).(string); ok {
		return keyID
	}
	return "unknown"
}
