package graphql

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/rpattn/casetrail/internal/domain"
)

//go:embed schema.graphqls
var schemaSource string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: schemaSource})

// object is a resolved GraphQL object keyed by schema field name.
type object map[string]any

type fieldFunc func(ctx context.Context, args map[string]any) (any, error)

// executableSchema dispatches root fields to the Resolver and completes the
// results against the selection set. Query fields resolve concurrently so
// loader-backed fields batch; mutation fields run in document order.
type executableSchema struct {
	fields map[string]map[string]fieldFunc
	logger *slog.Logger
}

// NewExecutableSchema wires resolver into a graphql.ExecutableSchema.
func NewExecutableSchema(resolver *Resolver, logger *slog.Logger) graphql.ExecutableSchema {
	if logger == nil {
		logger = slog.Default()
	}
	return &executableSchema{
		logger: logger,
		fields: map[string]map[string]fieldFunc{
			"Query": {
				"actionTypes": func(ctx context.Context, _ map[string]any) (any, error) {
					return resolver.ActionTypes(ctx)
				},
				"lastUndo": func(ctx context.Context, args map[string]any) (any, error) {
					return resolver.LastUndo(ctx, argString(args, "scopeId"))
				},
				"lastRedo": func(ctx context.Context, args map[string]any) (any, error) {
					return resolver.LastRedo(ctx, argString(args, "scopeId"))
				},
				"undoStack": func(ctx context.Context, args map[string]any) (any, error) {
					return resolver.UndoStack(ctx, argString(args, "scopeId"), argInt(args, "limit"))
				},
				"redoStack": func(ctx context.Context, args map[string]any) (any, error) {
					return resolver.RedoStack(ctx, argString(args, "scopeId"), argInt(args, "limit"))
				},
				"auditLog": func(ctx context.Context, args map[string]any) (any, error) {
					return resolver.AuditLog(ctx, argString(args, "entityId"))
				},
			},
			"Mutation": {
				"submitCommand": func(ctx context.Context, args map[string]any) (any, error) {
					input, _ := args["input"].(map[string]any)
					return resolver.SubmitCommand(ctx, argString(input, "scopeId"), argString(input, "actionType"), argString(input, "params"))
				},
				"undo": func(ctx context.Context, args map[string]any) (any, error) {
					return resolver.Undo(ctx, argString(args, "scopeId"))
				},
				"redo": func(ctx context.Context, args map[string]any) (any, error) {
					return resolver.Redo(ctx, argString(args, "scopeId"))
				},
			},
		},
	}
}

func (e *executableSchema) Schema() *ast.Schema {
	return parsedSchema
}

func (e *executableSchema) Complexity(_ context.Context, _, _ string, _ int, _ map[string]any) (int, bool) {
	return 0, false
}

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)

	var root string
	switch opCtx.Operation.Operation {
	case ast.Query:
		root = "Query"
	case ast.Mutation:
		root = "Mutation"
	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported operation %s", opCtx.Operation.Operation))
	}

	fields := graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{root})
	values := make([]any, len(fields))
	errs := make([]*gqlerror.Error, len(fields))
	resolve := func(i int) {
		values[i], errs[i] = e.resolveField(ctx, opCtx, root, fields[i])
	}
	if root == "Query" {
		var wg sync.WaitGroup
		for i := range fields {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				resolve(i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range fields {
			resolve(i)
		}
	}

	resp := &graphql.Response{}
	data := make(orderedObject, len(fields))
	nullData := false
	for i, field := range fields {
		data[i] = member{Key: field.Alias, Value: values[i]}
		if errs[i] == nil {
			continue
		}
		resp.Errors = append(resp.Errors, errs[i])
		if field.Definition != nil && field.Definition.Type.NonNull {
			nullData = true
		}
	}
	if !nullData {
		raw, err := json.Marshal(data)
		if err != nil {
			return graphql.OneShot(graphql.ErrorResponse(ctx, "encode response: %v", err))
		}
		resp.Data = raw
	}
	return graphql.OneShot(resp)
}

// resolveField runs one root field through the handler's field middleware
// and completes its value.
func (e *executableSchema) resolveField(ctx context.Context, opCtx *graphql.OperationContext, root string, field graphql.CollectedField) (any, *gqlerror.Error) {
	if field.Name == "__typename" {
		return root, nil
	}
	fn, ok := e.fields[root][field.Name]
	if !ok {
		return nil, e.present(ctx, field, fmt.Errorf("no resolver for %s.%s", root, field.Name))
	}

	args := field.ArgumentMap(opCtx.Variables)
	fc := &graphql.FieldContext{
		Object:     root,
		Field:      field,
		Args:       args,
		IsMethod:   true,
		IsResolver: true,
	}
	ctx = graphql.WithFieldContext(ctx, fc)

	next := func(ctx context.Context) (any, error) { return fn(ctx, args) }
	var (
		value any
		err   error
	)
	if opCtx.ResolverMiddleware != nil {
		value, err = opCtx.ResolverMiddleware(ctx, next)
	} else {
		value, err = next(ctx)
	}
	if err != nil {
		return nil, e.present(ctx, field, err)
	}
	return complete(opCtx, field.Definition.Type, field.Selections, value), nil
}

// complete shapes a resolved value to the selection set.
func complete(opCtx *graphql.OperationContext, typ *ast.Type, selections ast.SelectionSet, value any) any {
	if value == nil {
		return nil
	}
	if typ.Elem != nil {
		items, _ := value.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = complete(opCtx, typ.Elem, selections, item)
		}
		return out
	}

	def := parsedSchema.Types[typ.Name()]
	if def == nil || def.Kind != ast.Object {
		return value
	}
	obj, _ := value.(object)
	fields := graphql.CollectFields(opCtx, selections, []string{def.Name})
	out := make(orderedObject, len(fields))
	for i, field := range fields {
		if field.Name == "__typename" {
			out[i] = member{Key: field.Alias, Value: def.Name}
			continue
		}
		out[i] = member{Key: field.Alias, Value: complete(opCtx, field.Definition.Type, field.Selections, obj[field.Name])}
	}
	return out
}

// present turns a resolver error into a GraphQL error carrying the domain
// error kind in extensions.code.
func (e *executableSchema) present(ctx context.Context, field graphql.CollectedField, err error) *gqlerror.Error {
	gqlErr := &gqlerror.Error{
		Err:        err,
		Message:    err.Error(),
		Path:       ast.Path{ast.PathName(field.Alias)},
		Extensions: map[string]any{},
	}

	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		gqlErr.Extensions["code"] = "VALIDATION"
	case errors.As(err, &notFound):
		gqlErr.Extensions["code"] = "NOT_FOUND"
	case errors.As(err, &conflict):
		gqlErr.Extensions["code"] = "CONFLICT"
		gqlErr.Extensions["commandId"] = conflict.CommandID.String()
		refs := make([]any, len(conflict.Entities))
		for i, ref := range conflict.Entities {
			refs[i] = map[string]any{"type": string(ref.Type), "id": strconv.FormatInt(ref.ID, 10)}
		}
		gqlErr.Extensions["entities"] = refs
	default:
		gqlErr.Extensions["code"] = "INTERNAL"
		e.logger.ErrorContext(ctx, "graphql field failed", "field", field.Name, "error", err)
	}
	return gqlErr
}

type member struct {
	Key   string
	Value any
}

// orderedObject marshals its members in selection order.
type orderedObject []member

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(m.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(m.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func argString(args map[string]any, name string) string {
	switch v := args[name].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// argInt reads an Int argument. Literals arrive as int64, variables as
// json.Number or int64 depending on coercion.
func argInt(args map[string]any, name string) int {
	switch v := args[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}
