package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/casetrail/internal/auditloader"
)

type ctxKey string

const auditLoaderKey ctxKey = "auditLoader"

// DataLoaderMiddleware attaches a request-scoped audit loader to the context.
func DataLoaderMiddleware(source auditloader.Source) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := auditloader.NewAuditLoader(source)
			ctx := context.WithValue(r.Context(), auditLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuditLoaderFromContext retrieves the audit loader from context.
func AuditLoaderFromContext(ctx context.Context) *auditloader.AuditLoader {
	if l, ok := ctx.Value(auditLoaderKey).(*auditloader.AuditLoader); ok {
		return l
	}
	return nil
}
