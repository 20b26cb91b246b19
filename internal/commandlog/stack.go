package commandlog

import (
	"context"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/audit"
	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// GetLastUndo returns the command ExecuteUndo would reverse, or nil.
func (s *Service) GetLastUndo(ctx context.Context, scope uuid.UUID) (*domain.StackItem, error) {
	items, err := s.stack(ctx, "get last undo", scope, domain.CommandCommitted, 1)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// GetLastRedo returns the command ExecuteRedo would reapply, or nil.
func (s *Service) GetLastRedo(ctx context.Context, scope uuid.UUID) (*domain.StackItem, error) {
	items, err := s.stack(ctx, "get last redo", scope, domain.CommandUndone, 1)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

// GetUndoStack lists committed commands, most recent first.
func (s *Service) GetUndoStack(ctx context.Context, scope uuid.UUID, limit int) ([]domain.StackItem, error) {
	return s.stack(ctx, "get undo stack", scope, domain.CommandCommitted, s.limit(limit))
}

// GetRedoStack lists undone commands, next to redo first.
func (s *Service) GetRedoStack(ctx context.Context, scope uuid.UUID, limit int) ([]domain.StackItem, error) {
	return s.stack(ctx, "get redo stack", scope, domain.CommandUndone, s.limit(limit))
}

func (s *Service) limit(limit int) int {
	if limit <= 0 {
		return s.defaultLimit
	}
	if limit > s.maxLimit {
		return s.maxLimit
	}
	return limit
}

// stack reads one side of the history. Committed commands are listed from
// the top down. Undone commands are listed from the lowest sequence, which
// is the most recently undone.
func (s *Service) stack(ctx context.Context, op string, scope uuid.UUID, status domain.CommandStatus, limit int) ([]domain.StackItem, error) {
	if scope == uuid.Nil {
		return nil, domain.ErrValidation("scope is required")
	}
	var cmds []domain.Command
	err := s.store.View(ctx, func(tx repository.Tx) error {
		if _, err := tx.Organizations().GetByID(ctx, scope); err != nil {
			return err
		}
		var err error
		cmds, err = tx.Commands().ListByStatus(ctx, scope, status, status == domain.CommandCommitted, limit)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, op, scope, err)
	}
	items := make([]domain.StackItem, len(cmds))
	for i, cmd := range cmds {
		items[i] = cmd.Item()
	}
	return items, nil
}

// ExecuteUndo reverses the top committed command.
func (s *Service) ExecuteUndo(ctx context.Context, scope uuid.UUID, actor string) (Result, error) {
	if err := validateCaller(scope, actor); err != nil {
		return Result{}, err
	}
	if err := s.runFlush(ctx, scope); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Organizations().LockByID(ctx, scope); err != nil {
			return err
		}
		top, err := tx.Commands().ListByStatus(ctx, scope, domain.CommandCommitted, true, 1)
		if err != nil {
			return err
		}
		if len(top) == 0 {
			result = Result{Description: NothingToUndo}
			return nil
		}
		cmd := top[0]

		def, err := s.registry.Lookup(cmd.ActionType)
		if err != nil {
			return err
		}
		if err := checkConflict(ctx, tx, scope, cmd); err != nil {
			return err
		}

		outcome, err := def.ApplyInverse(ctx, tx, scope, cmd.InversePayload)
		if err != nil {
			return asConflict(cmd, err)
		}
		now := s.now()
		written, err := apply(ctx, tx, scope, outcome.Mutation, now)
		if err != nil {
			return err
		}

		stamps, err := captureStamps(ctx, tx, scope, union(cmd.Stamps.TestCaseIDs(), outcome.Affected, written.touched))
		if err != nil {
			return err
		}
		cmd.Stamps = stamps
		cmd.Status = domain.CommandUndone
		cmd.UpdatedAt = now
		if err := tx.Commands().Update(ctx, cmd); err != nil {
			return err
		}

		write := audit.Write{ActorID: actor, CommandID: &cmd.ID, Reversal: true, At: now}
		if _, err := s.audit.Record(ctx, tx.Audit(), write, written.changes); err != nil {
			return err
		}

		result = Result{Description: cmd.Description, Applied: true, CommandID: cmd.ID}
		return nil
	})
	if err != nil {
		return Result{}, s.fail(ctx, "undo", scope, err)
	}

	if result.Applied {
		s.logger.InfoContext(ctx, "command undone", "scope", scope, "command_id", result.CommandID, "actor", actor)
	}
	return result, nil
}

// ExecuteRedo reapplies the most recently undone command by re-executing its
// forward payload. The command moves to the top of the sequence and any
// commands still undone are re-sequenced above it in their existing order.
func (s *Service) ExecuteRedo(ctx context.Context, scope uuid.UUID, actor string) (Result, error) {
	if err := validateCaller(scope, actor); err != nil {
		return Result{}, err
	}
	if err := s.runFlush(ctx, scope); err != nil {
		return Result{}, err
	}

	var result Result
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.Organizations().LockByID(ctx, scope); err != nil {
			return err
		}
		undone, err := tx.Commands().ListByStatus(ctx, scope, domain.CommandUndone, false, 0)
		if err != nil {
			return err
		}
		if len(undone) == 0 {
			result = Result{Description: NothingToRedo}
			return nil
		}
		cmd := undone[0]

		def, err := s.registry.Lookup(cmd.ActionType)
		if err != nil {
			return err
		}
		if err := checkConflict(ctx, tx, scope, cmd); err != nil {
			return err
		}

		outcome, err := def.Execute(ctx, tx, scope, cmd.ForwardPayload)
		if err != nil {
			return asConflict(cmd, err)
		}
		now := s.now()
		written, err := apply(ctx, tx, scope, outcome.Mutation, now)
		if err != nil {
			return err
		}

		stamps, err := captureStamps(ctx, tx, scope, union(cmd.Stamps.TestCaseIDs(), outcome.Affected, written.touched))
		if err != nil {
			return err
		}

		top, err := tx.Commands().MaxSequence(ctx, scope)
		if err != nil {
			return err
		}
		cmd.Sequence = top + 1
		cmd.Stamps = stamps
		cmd.Status = domain.CommandCommitted
		cmd.InversePayload = outcome.Inverse
		cmd.UpdatedAt = now
		if err := tx.Commands().Update(ctx, cmd); err != nil {
			return err
		}
		for i, rest := range undone[1:] {
			rest.Sequence = top + 2 + int64(i)
			if err := tx.Commands().Update(ctx, rest); err != nil {
				return err
			}
		}

		write := audit.Write{ActorID: actor, CommandID: &cmd.ID, At: now}
		if _, err := s.audit.Record(ctx, tx.Audit(), write, written.changes); err != nil {
			return err
		}

		result = Result{Description: cmd.Description, Applied: true, CommandID: cmd.ID}
		return nil
	})
	if err != nil {
		return Result{}, s.fail(ctx, "redo", scope, err)
	}

	if result.Applied {
		s.logger.InfoContext(ctx, "command redone", "scope", scope, "command_id", result.CommandID, "actor", actor)
	}
	return result, nil
}

func (s *Service) runFlush(ctx context.Context, scope uuid.UUID) error {
	for _, flush := range s.flush {
		if err := flush(ctx, scope); err != nil {
			return err
		}
	}
	return nil
}
