// Package graphql serves the command log through gqlgen.
package graphql

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/auth"
	"github.com/rpattn/casetrail/internal/commandlog"
	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/middleware"
)

// Resolver handles GraphQL queries and mutations
type Resolver struct {
	commands *commandlog.Service
}

// NewResolver creates a new GraphQL resolver
func NewResolver(commands *commandlog.Service) *Resolver {
	return &Resolver{commands: commands}
}

// Query resolvers

// ActionTypes lists the registered action types
func (r *Resolver) ActionTypes(context.Context) ([]any, error) {
	types := r.commands.ActionTypes()
	out := make([]any, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out, nil
}

// LastUndo returns the command undo would reverse, or null
func (r *Resolver) LastUndo(ctx context.Context, scopeID string) (any, error) {
	scope, err := parseScope(scopeID)
	if err != nil {
		return nil, err
	}
	item, err := r.commands.GetLastUndo(ctx, scope)
	if err != nil || item == nil {
		return nil, err
	}
	return toGraphStackItem(*item), nil
}

// LastRedo returns the command redo would reapply, or null
func (r *Resolver) LastRedo(ctx context.Context, scopeID string) (any, error) {
	scope, err := parseScope(scopeID)
	if err != nil {
		return nil, err
	}
	item, err := r.commands.GetLastRedo(ctx, scope)
	if err != nil || item == nil {
		return nil, err
	}
	return toGraphStackItem(*item), nil
}

// UndoStack lists committed commands, most recent first
func (r *Resolver) UndoStack(ctx context.Context, scopeID string, limit int) ([]any, error) {
	scope, err := parseScope(scopeID)
	if err != nil {
		return nil, err
	}
	items, err := r.commands.GetUndoStack(ctx, scope, limit)
	if err != nil {
		return nil, err
	}
	return toGraphStack(items), nil
}

// RedoStack lists undone commands, next to redo first
func (r *Resolver) RedoStack(ctx context.Context, scopeID string, limit int) ([]any, error) {
	scope, err := parseScope(scopeID)
	if err != nil {
		return nil, err
	}
	items, err := r.commands.GetRedoStack(ctx, scope, limit)
	if err != nil {
		return nil, err
	}
	return toGraphStack(items), nil
}

// AuditLog returns the audit trail of one entity. Several auditLog fields in
// one request share a store read through the request's audit loader.
func (r *Resolver) AuditLog(ctx context.Context, entityID string) ([]any, error) {
	id, err := strconv.ParseInt(entityID, 10, 64)
	if err != nil || id <= 0 {
		return nil, domain.ErrValidation("invalid entity id %q", entityID)
	}

	var entries []domain.AuditEntry
	if loader := middleware.AuditLoaderFromContext(ctx); loader != nil {
		entries, err = loader.Load(ctx, id)
	} else {
		entries, err = r.commands.GetAuditLog(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	out := make([]any, len(entries))
	for i, entry := range entries {
		out[i] = toGraphAuditEntry(entry)
	}
	return out, nil
}

// Mutation resolvers

// SubmitCommand executes a command and pushes it onto the undo stack
func (r *Resolver) SubmitCommand(ctx context.Context, scopeID, actionType, params string) (any, error) {
	scope, err := parseScope(scopeID)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(params)) {
		return nil, domain.ErrValidation("params must be a JSON object")
	}
	actor, _ := auth.ActorIDFromContext(ctx)
	submitted, err := r.commands.SubmitCommand(ctx, scope, actor, domain.ActionType(actionType), json.RawMessage(params))
	if err != nil {
		return nil, err
	}
	return object{
		"commandId":   submitted.CommandID.String(),
		"description": submitted.Description,
	}, nil
}

// Undo reverses the top committed command
func (r *Resolver) Undo(ctx context.Context, scopeID string) (any, error) {
	scope, err := parseScope(scopeID)
	if err != nil {
		return nil, err
	}
	actor, _ := auth.ActorIDFromContext(ctx)
	result, err := r.commands.ExecuteUndo(ctx, scope, actor)
	if err != nil {
		return nil, err
	}
	return toGraphResult(result), nil
}

// Redo reapplies the most recently undone command
func (r *Resolver) Redo(ctx context.Context, scopeID string) (any, error) {
	scope, err := parseScope(scopeID)
	if err != nil {
		return nil, err
	}
	actor, _ := auth.ActorIDFromContext(ctx)
	result, err := r.commands.ExecuteRedo(ctx, scope, actor)
	if err != nil {
		return nil, err
	}
	return toGraphResult(result), nil
}

func parseScope(id string) (uuid.UUID, error) {
	scope, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return uuid.Nil, domain.ErrValidation("invalid scope id %q", id)
	}
	return scope, nil
}

func toGraphStack(items []domain.StackItem) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = toGraphStackItem(item)
	}
	return out
}

func toGraphStackItem(item domain.StackItem) object {
	return object{
		"id":          item.ID.String(),
		"description": item.Description,
		"actionType":  string(item.ActionType),
		"createdAt":   item.CreatedAt.Format(time.RFC3339),
	}
}

func toGraphResult(result commandlog.Result) object {
	var commandID any
	if result.CommandID != uuid.Nil {
		commandID = result.CommandID.String()
	}
	return object{
		"commandId":   commandID,
		"description": result.Description,
		"applied":     result.Applied,
	}
}

func toGraphAuditEntry(entry domain.AuditEntry) object {
	var commandID any
	if entry.CommandID != nil {
		commandID = entry.CommandID.String()
	}
	diffs := make([]any, len(entry.Diffs))
	for i, diff := range entry.Diffs {
		diffs[i] = object{
			"field":      diff.Field,
			"kind":       string(diff.Kind),
			"oldValue":   jsonString(diff.OldValue),
			"newValue":   jsonString(diff.NewValue),
			"collection": jsonString(diff.Collection),
		}
	}
	return object{
		"id":         entry.ID.String(),
		"entityType": string(entry.EntityType),
		"entityId":   strconv.FormatInt(entry.EntityID, 10),
		"sequence":   entry.Sequence,
		"action":     string(entry.Action),
		"actorId":    entry.ActorID,
		"commandId":  commandID,
		"createdAt":  entry.CreatedAt.Format(time.RFC3339),
		"diffs":      diffs,
	}
}

// jsonString encodes v for a String field. Absent values stay null.
func jsonString(v any) any {
	if v == nil {
		return nil
	}
	if diff, ok := v.(*domain.CollectionDiff); ok && diff == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
