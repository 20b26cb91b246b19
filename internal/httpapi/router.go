// Package httpapi exposes the command log and the direct test case path as
// a JSON HTTP API, with the command log also served over GraphQL at /query.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rpattn/casetrail/internal/auth"
	"github.com/rpattn/casetrail/internal/commandlog"
	"github.com/rpattn/casetrail/internal/export"
	"github.com/rpattn/casetrail/internal/graphql"
	"github.com/rpattn/casetrail/internal/middleware"
	"github.com/rpattn/casetrail/internal/testcases"
)

// API holds the services behind the HTTP handlers.
type API struct {
	commands *commandlog.Service
	cases    *testcases.Service
	exports  *export.Service
	logger   *slog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(commands *commandlog.Service, cases *testcases.Service, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	api := &API{
		commands: commands,
		cases:    cases,
		exports:  export.NewService(commands),
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(auth.ActorMiddleware)

	r.Get("/actions", api.listActions)
	r.Post("/scopes", api.createScope)

	r.Route("/scopes/{scopeId}", func(r chi.Router) {
		r.Post("/folders", api.createFolder)

		r.Post("/commands", api.submitCommand)
		r.Get("/undo", api.lastUndo)
		r.Get("/redo", api.lastRedo)
		r.Get("/undo/stack", api.undoStack)
		r.Get("/redo/stack", api.redoStack)
		r.Post("/undo", api.executeUndo)
		r.Post("/redo", api.executeRedo)

		r.Get("/testcases", api.listTestCases)
		r.Post("/testcases", api.createTestCase)
		r.Get("/testcases/{id}", api.getTestCase)
		r.Patch("/testcases/{id}", api.saveTestCase)
		r.Post("/testcases/{id}/scenarios", api.addScenario)
		r.Put("/testcases/{id}/scenarios/{scenarioId}", api.saveScenario)
	})

	gql := graphql.NewServer(graphql.NewResolver(commands), logger)
	r.With(middleware.DataLoaderMiddleware(commands)).Handle("/query", gql)
	r.Handle("/playground", graphql.PlaygroundHandler("/query"))

	r.Route("/audit", func(r chi.Router) {
		r.Use(middleware.DataLoaderMiddleware(commands))
		r.Get("/", api.auditLogs)
		r.Get("/{entityId}", api.auditLog)
		r.Method(http.MethodGet, "/{entityId}/export.xlsx", export.NewHTTPHandler(api.exports, logger))
	})

	return r
}
