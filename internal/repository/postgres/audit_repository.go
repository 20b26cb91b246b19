package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rpattn/casetrail/internal/domain"
)

type auditRepository struct {
	tx pgx.Tx
}

const auditColumns = `entity_id, sequence, id, entity_type, action, diffs, actor_id, command_id, created_at`

// Append writes entries with the next per-entity sequence. Concurrent writers
// to the same entity collide on the primary key and the transaction fails.
func (r *auditRepository) Append(ctx context.Context, entries []domain.AuditEntry) error {
	next := map[int64]int64{}
	for _, entry := range entries {
		sequence, ok := next[entry.EntityID]
		if !ok {
			if err := r.tx.QueryRow(ctx, `
				SELECT COALESCE(MAX(sequence), 0) FROM audit_entries WHERE entity_id = $1`,
				entry.EntityID,
			).Scan(&sequence); err != nil {
				return fmt.Errorf("read audit sequence for entity %d: %w", entry.EntityID, err)
			}
		}
		sequence++
		next[entry.EntityID] = sequence

		if entry.ID == uuid.Nil {
			entry.ID = uuid.New()
		}
		diffs, err := json.Marshal(entry.Diffs)
		if err != nil {
			return fmt.Errorf("marshal audit diffs: %w", err)
		}
		if _, err := r.tx.Exec(ctx, `
			INSERT INTO audit_entries (`+auditColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			entry.EntityID, sequence, entry.ID, string(entry.EntityType), string(entry.Action),
			diffs, entry.ActorID, entry.CommandID, entry.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert audit entry for entity %d: %w", entry.EntityID, err)
		}
	}
	return nil
}

func (r *auditRepository) ListByEntity(ctx context.Context, entityID int64) ([]domain.AuditEntry, error) {
	grouped, err := r.ListByEntities(ctx, []int64{entityID})
	if err != nil {
		return nil, err
	}
	return grouped[entityID], nil
}

func (r *auditRepository) ListByEntities(ctx context.Context, entityIDs []int64) (map[int64][]domain.AuditEntry, error) {
	out := make(map[int64][]domain.AuditEntry, len(entityIDs))
	for _, id := range entityIDs {
		out[id] = []domain.AuditEntry{}
	}
	if len(entityIDs) == 0 {
		return out, nil
	}

	rows, err := r.tx.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE entity_id = ANY($1)
		ORDER BY entity_id, sequence`,
		entityIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry      domain.AuditEntry
			entityType string
			action     string
			diffs      []byte
		)
		if err := rows.Scan(
			&entry.EntityID, &entry.Sequence, &entry.ID, &entityType, &action,
			&diffs, &entry.ActorID, &entry.CommandID, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.EntityType = domain.EntityType(entityType)
		entry.Action = domain.AuditAction(action)
		if len(diffs) > 0 {
			if err := json.Unmarshal(diffs, &entry.Diffs); err != nil {
				return nil, fmt.Errorf("decode audit diffs for entity %d: %w", entry.EntityID, err)
			}
		}
		out[entry.EntityID] = append(out[entry.EntityID], entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	return out, nil
}
