// Package commandlog is the reversible command log: it submits commands
// through their definitions, keeps the per-organization undo/redo history
// and guards replays with version stamps.
package commandlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/audit"
	"github.com/rpattn/casetrail/internal/commands"
	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// Messages returned when there is no eligible command. These are results,
// not errors.
const (
	NothingToUndo = "nothing to undo"
	NothingToRedo = "nothing to redo"
)

const (
	defaultStackLimit = 20
	maxStackLimit     = 100
)

// FlushFunc persists pending edits held outside the store (for example an
// open editor) before undo or redo reads state.
type FlushFunc func(ctx context.Context, scope uuid.UUID) error

// Submitted is the result of a successful SubmitCommand.
type Submitted struct {
	CommandID   uuid.UUID `json:"commandId"`
	Description string    `json:"description"`
}

// Result is the outcome of ExecuteUndo or ExecuteRedo. Applied is false when
// there was nothing to do.
type Result struct {
	Description string    `json:"description"`
	Applied     bool      `json:"applied"`
	CommandID   uuid.UUID `json:"commandId,omitempty"`
}

// Service is the command API consumed by every collaborator that mutates
// test cases reversibly.
type Service struct {
	store        repository.Store
	registry     *commands.Registry
	audit        *audit.Writer
	logger       *slog.Logger
	flush        []FlushFunc
	defaultLimit int
	maxLimit     int
	now          func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFlush registers a callback run before every undo and redo. A failing
// flush aborts the operation before any state is read.
func WithFlush(fn FlushFunc) Option {
	return func(s *Service) {
		if fn != nil {
			s.flush = append(s.flush, fn)
		}
	}
}

// WithStackLimits sets the default and maximum stack preview sizes.
func WithStackLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 {
			s.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			s.maxLimit = maxLimit
		}
		if s.defaultLimit > s.maxLimit {
			s.defaultLimit = s.maxLimit
		}
	}
}

// WithClock overrides the time source used for command and row timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a command log over store. A nil registry means the
// default set of action types.
func NewService(store repository.Store, registry *commands.Registry, opts ...Option) *Service {
	if registry == nil {
		registry = commands.DefaultRegistry()
	}
	s := &Service{
		store:        store,
		registry:     registry,
		audit:        audit.NewWriter(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		defaultLimit: defaultStackLimit,
		maxLimit:     maxStackLimit,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitCommand validates params, executes the command and records it as the
// new top of the undo stack. Any undone commands in the scope expire.
func (s *Service) SubmitCommand(ctx context.Context, scope uuid.UUID, actor string, actionType domain.ActionType, params json.RawMessage) (Submitted, error) {
	if err := validateCaller(scope, actor); err != nil {
		return Submitted{}, err
	}
	def, err := s.registry.Lookup(actionType)
	if err != nil {
		return Submitted{}, err
	}
	if err := def.Validate(params); err != nil {
		return Submitted{}, err
	}

	var (
		cmd     domain.Command
		expired int64
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Organizations().LockByID(ctx, scope); err != nil {
			return err
		}

		outcome, err := def.Execute(ctx, tx, scope, params)
		if err != nil {
			return err
		}

		now := s.now()
		result, err := apply(ctx, tx, scope, outcome.Mutation, now)
		if err != nil {
			return err
		}

		stamps, err := captureStamps(ctx, tx, scope, union(outcome.Affected, result.touched))
		if err != nil {
			return err
		}

		expired, err = tx.Commands().ExpireUndone(ctx, scope)
		if err != nil {
			return err
		}
		top, err := tx.Commands().MaxSequence(ctx, scope)
		if err != nil {
			return err
		}

		cmd = domain.Command{
			ID:             uuid.New(),
			OrganizationID: scope,
			ActorID:        actor,
			ActionType:     actionType,
			Description:    outcome.Description,
			Sequence:       top + 1,
			ForwardPayload: outcome.Forward,
			InversePayload: outcome.Inverse,
			Status:         domain.CommandCommitted,
			Stamps:         stamps,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Commands().Insert(ctx, cmd); err != nil {
			return err
		}

		_, err = s.audit.Record(ctx, tx.Audit(), audit.Write{ActorID: actor, CommandID: &cmd.ID, At: now}, result.changes)
		return err
	})
	if err != nil {
		return Submitted{}, s.fail(ctx, "submit command", scope, err)
	}

	s.logger.InfoContext(ctx, "command submitted",
		"scope", scope,
		"command_id", cmd.ID,
		"action_type", cmd.ActionType,
		"sequence", cmd.Sequence,
		"expired", expired,
	)
	return Submitted{CommandID: cmd.ID, Description: cmd.Description}, nil
}

// GetAuditLog returns the audit trail of one entity, oldest first.
func (s *Service) GetAuditLog(ctx context.Context, entityID int64) ([]domain.AuditEntry, error) {
	if entityID <= 0 {
		return nil, domain.ErrValidation("invalid entity id %d", entityID)
	}
	var entries []domain.AuditEntry
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		entries, err = tx.Audit().ListByEntity(ctx, entityID)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, "get audit log", uuid.Nil, err)
	}
	return entries, nil
}

// GetAuditLogs returns the audit trails of several entities in one read.
// Every requested id is present in the result.
func (s *Service) GetAuditLogs(ctx context.Context, entityIDs []int64) (map[int64][]domain.AuditEntry, error) {
	for _, id := range entityIDs {
		if id <= 0 {
			return nil, domain.ErrValidation("invalid entity id %d", id)
		}
	}
	var logs map[int64][]domain.AuditEntry
	err := s.store.View(ctx, func(tx repository.Tx) error {
		var err error
		logs, err = tx.Audit().ListByEntities(ctx, entityIDs)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, "get audit logs", uuid.Nil, err)
	}
	for _, id := range entityIDs {
		if _, ok := logs[id]; !ok {
			logs[id] = []domain.AuditEntry{}
		}
	}
	return logs, nil
}

// ActionTypes lists the registered action types.
func (s *Service) ActionTypes() []domain.ActionType {
	return s.registry.Types()
}

func validateCaller(scope uuid.UUID, actor string) error {
	if scope == uuid.Nil {
		return domain.ErrValidation("scope is required")
	}
	if strings.TrimSpace(actor) == "" {
		return domain.ErrValidation("actor is required")
	}
	return nil
}

// fail logs err and wraps store-level failures as TransactionError. Domain
// errors pass through unchanged.
func (s *Service) fail(ctx context.Context, op string, scope uuid.UUID, err error) error {
	var (
		validation *domain.ValidationError
		notFound   *domain.NotFoundError
		conflict   *domain.ConflictError
		txErr      *domain.TransactionError
	)
	switch {
	case errors.As(err, &conflict):
		s.logger.WarnContext(ctx, "command conflict",
			"op", op,
			"scope", scope,
			"command_id", conflict.CommandID,
			"stale", len(conflict.Entities),
		)
		return err
	case errors.As(err, &validation), errors.As(err, &notFound), errors.As(err, &txErr):
		return err
	}
	s.logger.ErrorContext(ctx, "command log transaction failed", "op", op, "scope", scope, "error", err)
	return &domain.TransactionError{Op: op, Err: fmt.Errorf("transaction rolled back: %w", err)}
}
