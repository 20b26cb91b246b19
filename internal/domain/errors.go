package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ValidationError indicates empty or malformed input. It is always raised
// before any state is touched.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError indicates a missing command, scope or entity.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ConflictError reports that entities referenced by a command changed since
// the command was last transitioned. Entities lists what the caller should
// re-fetch before resubmitting.
type ConflictError struct {
	CommandID uuid.UUID
	Entities  []EntityRef
	Message   string
}

func (e *ConflictError) Error() string {
	if len(e.Entities) == 0 {
		return e.Message
	}
	refs := make([]string, len(e.Entities))
	for i, ref := range e.Entities {
		refs[i] = ref.String()
	}
	return fmt.Sprintf("%s (stale: %s)", e.Message, strings.Join(refs, ", "))
}

// TransactionError wraps a store-level failure. The operation it names was
// rolled back as a whole.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError for the given command and stale entities.
func ErrConflict(commandID uuid.UUID, entities []EntityRef, format string, args ...any) *ConflictError {
	return &ConflictError{
		CommandID: commandID,
		Entities:  entities,
		Message:   fmt.Sprintf(format, args...),
	}
}
