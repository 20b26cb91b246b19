package commandlog

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/rpattn/casetrail/internal/domain"
	"github.com/rpattn/casetrail/internal/repository"
)

// checkConflict compares the stamps stored on cmd with the current versions
// of the same test cases and their scenarios. Any difference means something
// outside this command's history touched them since its last transition.
func checkConflict(ctx context.Context, tx repository.Tx, scope uuid.UUID, cmd domain.Command) error {
	ids := cmd.Stamps.TestCaseIDs()
	current, err := captureStamps(ctx, tx, scope, ids)
	if err != nil {
		return err
	}
	if stale := cmd.Stamps.Stale(current); len(stale) > 0 {
		return domain.ErrConflict(cmd.ID, stale,
			"command %s (%s) is stale: entities changed since it was last applied", cmd.ID, cmd.Description)
	}
	return nil
}

// asConflict reports replay failures caused by state drift as conflicts.
// A payload that no longer validates or finds its rows cannot be applied
// until the caller re-fetches.
func asConflict(cmd domain.Command, err error) error {
	var validation *domain.ValidationError
	var notFound *domain.NotFoundError
	if errors.As(err, &validation) || errors.As(err, &notFound) {
		return domain.ErrConflict(cmd.ID, cmd.Stamps.Refs(), "command %s (%s) no longer applies: %v", cmd.ID, cmd.Description, err)
	}
	return err
}
