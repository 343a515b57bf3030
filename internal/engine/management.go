package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/procharness/internal/store"
)

// ManagementService exposes timer jobs and table statistics.
type ManagementService struct {
	e *Engine
}

// Jobs lists pending jobs of a process instance (all when empty), earliest
// due first.
func (m *ManagementService) Jobs(ctx context.Context, processInstanceID string) ([]Job, error) {
	var out []Job
	err := m.e.query(ctx, func(tx *store.Tx) error {
		rows, err := tx.Jobs(ctx, processInstanceID)
		if err != nil {
			return err
		}
		for _, j := range rows {
			out = append(out, toJob(j))
		}
		return nil
	})
	return out, err
}

// ExecuteDueJobs fires every job due at or before the engine clock's now,
// earliest first, each in its own transaction. It returns the number of
// jobs fired. Jobs removed by an earlier firing in the same pass (an
// instance that ended) are skipped.
func (m *ManagementService) ExecuteDueJobs(ctx context.Context) (int, error) {
	e := m.e
	now := e.clock.Now()

	var due []store.Job
	if err := e.query(ctx, func(tx *store.Tx) error {
		var err error
		due, err = tx.DueJobs(ctx, now)
		return err
	}); err != nil {
		return 0, fmt.Errorf("execute due jobs: %w", err)
	}

	fired := 0
	var errs []error
	for _, candidate := range due {
		err := e.command(ctx, func(tx *store.Tx) error {
			job, err := tx.Job(ctx, candidate.ID)
			if err != nil {
				return err
			}
			return e.fireJob(ctx, tx, job)
		})
		switch {
		case err == nil:
			fired++
		case errors.Is(err, store.ErrNotFound):
			// removed by an earlier job in this pass
		default:
			errs = append(errs, fmt.Errorf("job %s: %w", candidate.ID, err))
		}
	}
	return fired, errors.Join(errs...)
}

// ExecuteJob fires a job regardless of its due date.
func (m *ManagementService) ExecuteJob(ctx context.Context, jobID string) error {
	e := m.e
	return e.command(ctx, func(tx *store.Tx) error {
		job, err := tx.Job(ctx, jobID)
		if err != nil {
			return wrapNotFound(err)
		}
		return e.fireJob(ctx, tx, job)
	})
}

// TableCounts returns the row count of every engine table.
func (m *ManagementService) TableCounts(ctx context.Context) (map[string]int64, error) {
	var counts map[string]int64
	err := m.e.query(ctx, func(tx *store.Tx) error {
		var err error
		counts, err = tx.TableCounts(ctx)
		return err
	})
	return counts, err
}

func toJob(j store.Job) Job {
	return Job{
		ID:                j.ID,
		ProcessInstanceID: j.ProcessInstanceID,
		ActivityID:        j.NodeID,
		Boundary:          j.Kind == store.JobBoundary,
		DueAt:             j.DueAt,
	}
}
