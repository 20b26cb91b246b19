package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActorMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{name: "header set", header: "alice", want: "alice", ok: true},
		{name: "trimmed", header: "  bob ", want: "bob", ok: true},
		{name: "blank", header: "   ", ok: false},
		{name: "missing", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			var ok bool
			handler := ActorMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				got, ok = ActorIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(ActorHeader, tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestActorIDFromEmptyContext(t *testing.T) {
	_, ok := ActorIDFromContext(context.Background())
	assert.False(t, ok)
}
