package repository

import (
	"context"
	"time"

	"github.com/modulab/foreman/internal/foreman"
	memstore "github.com/modulab/foreman/internal/repository/memory"
)

// MemoryJobLogRepository stores scheduler fire records in memory.
type MemoryJobLogRepository struct {
	store *memstore.Store[*foreman.JobLog]
}

func NewMemoryJobLogRepository() *MemoryJobLogRepository {
	return &MemoryJobLogRepository{
		store: memstore.New(func(l *foreman.JobLog) string { return l.ID }),
	}
}

func (r *MemoryJobLogRepository) Append(ctx context.Context, l *foreman.JobLog) error {
	c := *l
	return r.store.Set(ctx, &c)
}

func (r *MemoryJobLogRepository) List(ctx context.Context, limit int) ([]*foreman.JobLog, error) {
	all, err := r.store.All(ctx)
	if err != nil {
		return nil, err
	}
	// Newest first.
	out := make([]*foreman.JobLog, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		c := *all[i]
		out = append(out, &c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryJobLogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	old, err := r.store.Filter(ctx, func(l *foreman.JobLog) bool { return l.RunAt.Before(cutoff) })
	if err != nil {
		return 0, err
	}
	for _, l := range old {
		if err := r.store.Delete(ctx, l.ID); err != nil {
			return 0, err
		}
	}
	return len(old), nil
}
