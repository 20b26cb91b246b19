package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/casetrail/internal/domain"
)

type commandRepository struct {
	tx pgx.Tx
}

const commandColumns = `id, organization_id, actor_id, action_type, description, sequence,
	forward_payload, inverse_payload, status, stamps, created_at, updated_at`

func (r *commandRepository) Insert(ctx context.Context, cmd domain.Command) error {
	stamps, err := json.Marshal(cmd.Stamps)
	if err != nil {
		return fmt.Errorf("marshal command stamps: %w", err)
	}
	_, err = r.tx.Exec(ctx, `
		INSERT INTO commands (`+commandColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		cmd.ID, cmd.OrganizationID, cmd.ActorID, string(cmd.ActionType), cmd.Description, cmd.Sequence,
		[]byte(cmd.ForwardPayload), []byte(cmd.InversePayload), string(cmd.Status), stamps,
		cmd.CreatedAt, cmd.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

func (r *commandRepository) Update(ctx context.Context, cmd domain.Command) error {
	stamps, err := json.Marshal(cmd.Stamps)
	if err != nil {
		return fmt.Errorf("marshal command stamps: %w", err)
	}
	tag, err := r.tx.Exec(ctx, `
		UPDATE commands
		SET sequence = $2, forward_payload = $3, inverse_payload = $4, status = $5,
			stamps = $6, description = $7, updated_at = $8
		WHERE id = $1`,
		cmd.ID, cmd.Sequence, []byte(cmd.ForwardPayload), []byte(cmd.InversePayload),
		string(cmd.Status), stamps, cmd.Description, cmd.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update command: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound("command %s not found", cmd.ID)
	}
	return nil
}

func (r *commandRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Command, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+commandColumns+` FROM commands WHERE id = $1`, id)
	cmd, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Command{}, domain.ErrNotFound("command %s not found", id)
	}
	if err != nil {
		return domain.Command{}, fmt.Errorf("get command: %w", err)
	}
	return cmd, nil
}

func (r *commandRepository) MaxSequence(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	var sequence int64
	err := r.tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM commands WHERE organization_id = $1`,
		organizationID,
	).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("get max command sequence: %w", err)
	}
	return sequence, nil
}

func (r *commandRepository) ExpireUndone(ctx context.Context, organizationID uuid.UUID) (int64, error) {
	tag, err := r.tx.Exec(ctx, `
		UPDATE commands
		SET status = 'expired', updated_at = now()
		WHERE organization_id = $1 AND status = 'undone'`,
		organizationID,
	)
	if err != nil {
		return 0, fmt.Errorf("expire undone commands: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *commandRepository) ListByStatus(
	ctx context.Context,
	organizationID uuid.UUID,
	status domain.CommandStatus,
	descending bool,
	limit int,
) ([]domain.Command, error) {
	order := "ASC"
	if descending {
		order = "DESC"
	}
	query := `SELECT ` + commandColumns + `
		FROM commands
		WHERE organization_id = $1 AND status = $2
		ORDER BY sequence ` + order
	args := []any{organizationID, string(status)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	defer rows.Close()

	commands := []domain.Command{}
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		commands = append(commands, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	return commands, nil
}

func scanCommand(row pgx.Row) (domain.Command, error) {
	var (
		cmd        domain.Command
		actionType string
		status     string
		forward    []byte
		inverse    []byte
		stamps     []byte
	)
	if err := row.Scan(
		&cmd.ID, &cmd.OrganizationID, &cmd.ActorID, &actionType, &cmd.Description, &cmd.Sequence,
		&forward, &inverse, &status, &stamps, &cmd.CreatedAt, &cmd.UpdatedAt,
	); err != nil {
		return domain.Command{}, err
	}
	cmd.ActionType = domain.ActionType(actionType)
	cmd.Status = domain.CommandStatus(status)
	cmd.ForwardPayload = json.RawMessage(forward)
	cmd.InversePayload = json.RawMessage(inverse)
	cmd.Stamps = domain.Stamps{}
	if len(stamps) > 0 {
		if err := json.Unmarshal(stamps, &cmd.Stamps); err != nil {
			return domain.Command{}, fmt.Errorf("decode stamps for command %s: %w", cmd.ID, err)
		}
	}
	return cmd, nil
}
