package graphql

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/casetrail/internal/auth"
	"github.com/rpattn/casetrail/internal/commandlog"
	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/middleware"
	"github.com/rpattn/casetrail/internal/repository/memory"
	"github.com/rpattn/casetrail/internal/testcases"
)

type gqlError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path"`
	Extensions map[string]any `json:"extensions"`
}

type gqlResponse struct {
	status int
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

// countingSource counts batched audit reads.
type countingSource struct {
	inner *commandlog.Service
	calls atomic.Int32
}

func (c *countingSource) GetAuditLogs(ctx context.Context, ids []int64) (map[int64][]domain.AuditEntry, error) {
	c.calls.Add(1)
	return c.inner.GetAuditLogs(ctx, ids)
}

type env struct {
	handler http.Handler
	cases   *testcases.Service
	audit   *countingSource
	scope   uuid.UUID
}

// newEnv seeds one organization with unfiled test cases 10 and 11.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	cases := testcases.NewService(store, testcases.WithLogger(logger))
	commands := commandlog.NewService(store, nil, commandlog.WithLogger(logger))

	org, err := cases.CreateOrganization(ctx, "QA", "")
	require.NoError(t, err)
	for _, id := range []int64{10, 11} {
		_, err := cases.Create(ctx, org.ID, "alice", testcases.NewTestCase{ID: id, Title: "Checkout"})
		require.NoError(t, err)
	}

	source := &countingSource{inner: commands}
	srv := NewServer(NewResolver(commands), logger)
	return &env{
		handler: auth.ActorMiddleware(middleware.DataLoaderMiddleware(source)(srv)),
		cases:   cases,
		audit:   source,
		scope:   org.ID,
	}
}

func (e *env) post(t *testing.T, actor, query string, variables map[string]any) gqlResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(auth.ActorHeader, actor)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	resp := gqlResponse{status: rec.Code}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

const submitMutation = `mutation Submit($input: SubmitCommandInput!) {
  submitCommand(input: $input) { commandId description }
}`

func (e *env) submitRename(t *testing.T, id int64, title string) string {
	t.Helper()
	params, err := json.Marshal(map[string]any{"ids": []int64{id}, "fields": map[string]string{"title": title}})
	require.NoError(t, err)
	resp := e.post(t, "alice", submitMutation, map[string]any{
		"input": map[string]any{"scopeId": e.scope.String(), "actionType": "ChangeField", "params": string(params)},
	})
	require.Empty(t, resp.Errors)

	var data struct {
		SubmitCommand struct {
			CommandID   string `json:"commandId"`
			Description string `json:"description"`
		} `json:"submitCommand"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	assert.Equal(t, "Changed title on 1 test case", data.SubmitCommand.Description)
	return data.SubmitCommand.CommandID
}

func TestSubmitUndoRedoOverGraphQL(t *testing.T) {
	e := newEnv(t)
	commandID := e.submitRename(t, 10, "Renamed")

	resp := e.post(t, "", `query Stack($scope: ID!) {
  top: lastUndo(scopeId: $scope) { __typename id actionType }
  undoStack(scopeId: $scope, limit: 5) { id description }
  redo: lastRedo(scopeId: $scope) { id }
}`, map[string]any{"scope": e.scope.String()})
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{
		"top": {"__typename": "StackItem", "id": "`+commandID+`", "actionType": "ChangeField"},
		"undoStack": [{"id": "`+commandID+`", "description": "Changed title on 1 test case"}],
		"redo": null
	}`, string(resp.Data))
	assert.True(t, strings.HasPrefix(string(resp.Data), `{"top":{"__typename":"StackItem","id":`), "members follow selection order")

	resp = e.post(t, "alice", `mutation Undo($scope: ID!) { undo(scopeId: $scope) { commandId applied description } }`,
		map[string]any{"scope": e.scope.String()})
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"undo": {"commandId": "`+commandID+`", "applied": true, "description": "Changed title on 1 test case"}}`, string(resp.Data))

	tc, err := e.cases.Get(context.Background(), e.scope, 10)
	require.NoError(t, err)
	assert.Equal(t, "Checkout", tc.Title)

	resp = e.post(t, "alice", `mutation Redo($scope: ID!) { redo(scopeId: $scope) { applied } }`,
		map[string]any{"scope": e.scope.String()})
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"redo": {"applied": true}}`, string(resp.Data))

	tc, err = e.cases.Get(context.Background(), e.scope, 10)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", tc.Title)
}

func TestNothingToRedoIsNotAnError(t *testing.T) {
	e := newEnv(t)

	resp := e.post(t, "alice", `mutation Redo($scope: ID!) { redo(scopeId: $scope) { commandId applied description } }`,
		map[string]any{"scope": e.scope.String()})
	require.Empty(t, resp.Errors)
	assert.JSONEq(t, `{"redo": {"commandId": null, "applied": false, "description": "nothing to redo"}}`, string(resp.Data))
}

func TestAuditLogFieldsShareOneRead(t *testing.T) {
	e := newEnv(t)
	e.submitRename(t, 10, "Renamed")
	e.audit.calls.Store(0)

	resp := e.post(t, "", `{
  first: auditLog(entityId: "10") { action actorId diffs { field kind oldValue newValue } }
  second: auditLog(entityId: "11") { action }
}`, nil)
	require.Empty(t, resp.Errors)
	assert.Equal(t, int32(1), e.audit.calls.Load())

	var data struct {
		First []struct {
			Action string `json:"action"`
			Diffs  []struct {
				Field    string  `json:"field"`
				Kind     string  `json:"kind"`
				OldValue *string `json:"oldValue"`
				NewValue *string `json:"newValue"`
			} `json:"diffs"`
		} `json:"first"`
		Second []struct {
			Action string `json:"action"`
		} `json:"second"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Len(t, data.First, 2)
	assert.Equal(t, "created", data.First[0].Action)
	assert.Equal(t, "updated", data.First[1].Action)
	require.Len(t, data.First[1].Diffs, 1)
	diff := data.First[1].Diffs[0]
	assert.Equal(t, "title", diff.Field)
	require.NotNil(t, diff.OldValue)
	assert.Equal(t, `"Checkout"`, *diff.OldValue)
	assert.Equal(t, `"Renamed"`, *diff.NewValue)
	require.Len(t, data.Second, 1)
}

func TestErrorsCarryDomainCodes(t *testing.T) {
	e := newEnv(t)
	commandID := e.submitRename(t, 11, "Renamed")
	_, err := e.cases.Save(context.Background(), e.scope, "bob", 11, testcases.Edit{Fields: map[string]string{"state": "ready"}})
	require.NoError(t, err)

	undo := `mutation Undo($scope: ID!) { undo(scopeId: $scope) { applied } }`
	tests := []struct {
		name      string
		actor     string
		query     string
		variables map[string]any
		code      string
	}{
		{
			name:      "unknown scope",
			actor:     "alice",
			query:     undo,
			variables: map[string]any{"scope": uuid.NewString()},
			code:      "NOT_FOUND",
		},
		{
			name:      "malformed scope",
			actor:     "alice",
			query:     undo,
			variables: map[string]any{"scope": "not-a-uuid"},
			code:      "VALIDATION",
		},
		{
			name:      "missing actor",
			query:     undo,
			variables: map[string]any{"scope": e.scope.String()},
			code:      "VALIDATION",
		},
		{
			name:  "params are not JSON",
			actor: "alice",
			query: submitMutation,
			variables: map[string]any{
				"input": map[string]any{"scopeId": e.scope.String(), "actionType": "ChangeField", "params": "{ids"},
			},
			code: "VALIDATION",
		},
		{
			name:      "stale undo",
			actor:     "alice",
			query:     undo,
			variables: map[string]any{"scope": e.scope.String()},
			code:      "CONFLICT",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.post(t, tt.actor, tt.query, tt.variables)
			assert.Equal(t, http.StatusOK, resp.status)
			require.Len(t, resp.Errors, 1)
			assert.Equal(t, tt.code, resp.Errors[0].Extensions["code"])
			assert.Equal(t, "null", string(resp.Data), "non-null root field nulls the data")
			if tt.code == "CONFLICT" {
				assert.Equal(t, commandID, resp.Errors[0].Extensions["commandId"])
				assert.Equal(t, []any{map[string]any{"type": "test_case", "id": "11"}}, resp.Errors[0].Extensions["entities"])
			}
		})
	}
}

func TestUnknownFieldsAreRejectedBeforeResolving(t *testing.T) {
	e := newEnv(t)

	resp := e.post(t, "alice", `{ dropEverything }`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.status)
	require.NotEmpty(t, resp.Errors)
	assert.Equal(t, int32(0), e.audit.calls.Load())
}
