package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/99designs/gqlgen/graphql"
)

// ResolverLoggerExtension logs resolver execution times
type ResolverLoggerExtension struct {
	Logger *slog.Logger
}

// ExtensionName implements graphql.HandlerExtension
func (r *ResolverLoggerExtension) ExtensionName() string {
	return "ResolverLogger"
}

// Validate implements graphql.HandlerExtension
func (r *ResolverLoggerExtension) Validate(graphql.ExecutableSchema) error {
	return nil
}

// InterceptField logs each resolver duration and error
func (r *ResolverLoggerExtension) InterceptField(ctx context.Context, next graphql.Resolver) (any, error) {
	start := time.Now()
	res, err := next(ctx)
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fc := graphql.GetFieldContext(ctx)
	logger.DebugContext(ctx, "graphql resolver",
		"object", fc.Object,
		"field", fc.Field.Name,
		"duration_ms", float64(time.Since(start).Microseconds())/1000,
		"error", err,
	)
	return res, err
}
