package auditloader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/graph-gophers/dataloader"

	"github.com/rpattn/casetrail/internal/domain"
)

// Source reads the audit trails of several entities at once.
type Source interface {
	GetAuditLogs(ctx context.Context, entityIDs []int64) (map[int64][]domain.AuditEntry, error)
}

// AuditLoader batches audit log reads that arrive within a short window into
// one store read.
type AuditLoader struct {
	Loader *dataloader.Loader
}

func NewAuditLoader(source Source) *AuditLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		ids := make([]int64, len(keys))
		for i, k := range keys {
			id, err := strconv.ParseInt(k.String(), 10, 64)
			if err != nil {
				return fail(len(keys), fmt.Errorf("invalid entity id %q: %w", k.String(), err))
			}
			ids[i] = id
		}

		logs, err := source.GetAuditLogs(ctx, ids)
		if err != nil {
			return fail(len(keys), err)
		}

		// Results must line up with keys.
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			entries := logs[id]
			if entries == nil {
				entries = []domain.AuditEntry{}
			}
			results[i] = &dataloader.Result{Data: entries}
		}
		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))
	return &AuditLoader{Loader: loader}
}

// Key is the loader key of an entity id.
func Key(entityID int64) dataloader.Key {
	return dataloader.StringKey(strconv.FormatInt(entityID, 10))
}

// Load resolves the audit log of one entity. Concurrent calls within the
// loader's wait window share a store read.
func (l *AuditLoader) Load(ctx context.Context, id int64) ([]domain.AuditEntry, error) {
	value, err := l.Loader.Load(ctx, Key(id))()
	if err != nil {
		return nil, err
	}
	entries, _ := value.([]domain.AuditEntry)
	return entries, nil
}

// LoadMany resolves the audit logs of ids through the loader.
func (l *AuditLoader) LoadMany(ctx context.Context, ids []int64) (map[int64][]domain.AuditEntry, error) {
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = Key(id)
	}
	values, errs := l.Loader.LoadMany(ctx, keys)()
	out := make(map[int64][]domain.AuditEntry, len(ids))
	for i, id := range ids {
		if i < len(errs) && errs[i] != nil {
			return nil, errs[i]
		}
		entries, _ := values[i].([]domain.AuditEntry)
		out[id] = entries
	}
	return out, nil
}

func fail(n int, err error) []*dataloader.Result {
	results := make([]*dataloader.Result, n)
	for i := range results {
		results[i] = &dataloader.Result{Error: err}
	}
	return results
}
