package auth

import (
	"context"
	"net/http"
	"strings"
)

// ActorHeader carries the id of the user performing a request.
const ActorHeader = "X-Actor-ID"

type contextKey string

const actorIDKey contextKey = "actorID"

// ContextWithActorID returns a new context that carries the acting user.
func ContextWithActorID(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorIDKey, strings.TrimSpace(actor))
}

// ActorIDFromContext retrieves the acting user from the context, if any.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	actor, ok := ctx.Value(actorIDKey).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}

// ActorMiddleware copies the actor header into the request context. Requests
// without the header pass through; operations that need an actor reject them.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(ContextWithActorID(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
