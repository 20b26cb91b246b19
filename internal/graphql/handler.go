package graphql

import (
	"log/slog"
	"net/http"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/99designs/gqlgen/graphql/playground"

	"github.com/rpattn/casetrail/internal/middleware"
)

// NewServer creates the GraphQL server with the resolver logging extension.
func NewServer(resolver *Resolver, logger *slog.Logger) *handler.Server {
	srv := handler.New(NewExecutableSchema(resolver, logger))
	srv.AddTransport(transport.Options{})
	srv.AddTransport(transport.GET{})
	srv.AddTransport(transport.POST{})
	srv.Use(&middleware.ResolverLoggerExtension{Logger: logger})
	return srv
}

// PlaygroundHandler serves the GraphQL playground against endpoint.
func PlaygroundHandler(endpoint string) http.Handler {
	return playground.Handler("casetrail GraphQL playground", endpoint)
}
