package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/orchestrator/dag"
	"github.com/taskforge/taskforge/internal/task/models"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// CreateOrchestration validates the batch and inserts the group row
// plus all member tasks atomically. Members with dependencies start in
// waiting; roots start in pending. A single invalid spec rejects the
// whole batch.
func (s *Store) CreateOrchestration(ctx context.Context, specs []models.TaskInput) (*models.Orchestration, []*models.Task, error) {
	nodes := make([]dag.Node, len(specs))
	for i, spec := range specs {
		nodes[i] = dag.Node{ID: spec.TaskIdentifier, DependsOn: spec.DependsOn}
	}
	if err := dag.Validate(nodes); err != nil {
		return nil, nil, err
	}

	var (
		orch  *models.Orchestration
		tasks []*models.Task
	)
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO orchestrations (status, total_tasks, created_at)
			VALUES (?, ?, ?)
		`, v1.OrchestrationStatusPending, len(specs), now)
		if err != nil {
			return err
		}
		orchID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		orch = &models.Orchestration{
			ID:         orchID,
			Status:     v1.OrchestrationStatusPending,
			TotalTasks: len(specs),
			CreatedAt:  now,
		}

		tasks = make([]*models.Task, 0, len(specs))
		for _, spec := range specs {
			status := v1.TaskStatusPending
			if len(spec.DependsOn) > 0 {
				status = v1.TaskStatusWaiting
			}
			task, err := s.insertTask(ctx, tx, &orchID, spec, status)
			if err != nil {
				return err
			}
			tasks = append(tasks, task)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("orchestration created",
		zap.Int64("orchestration_id", orch.ID),
		zap.Int("total_tasks", orch.TotalTasks))
	return orch, tasks, nil
}

// GetOrchestration retrieves an orchestration row by id.
func (s *Store) GetOrchestration(ctx context.Context, id int64) (*models.Orchestration, error) {
	var orch models.Orchestration
	err := s.db.GetContext(ctx, &orch, `
		SELECT id, status, total_tasks, completed_tasks, failed_tasks, skipped_tasks,
			created_at, started_at, ended_at
		FROM orchestrations WHERE id = ?
	`, id)
	if err == sql.ErrNoRows {
		return nil, ErrOrchestrationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &orch, nil
}

// ListOrchestrations returns all orchestrations, newest first.
func (s *Store) ListOrchestrations(ctx context.Context) ([]*models.Orchestration, error) {
	var orchs []*models.Orchestration
	err := s.db.SelectContext(ctx, &orchs, `
		SELECT id, status, total_tasks, completed_tasks, failed_tasks, skipped_tasks,
			created_at, started_at, ended_at
		FROM orchestrations ORDER BY id DESC
	`)
	return orchs, err
}

// ListOrchestrationTasks returns the member tasks of an orchestration
// in insertion order.
func (s *Store) ListOrchestrationTasks(ctx context.Context, orchID int64) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM tasks WHERE orchestration_id = ? ORDER BY id ASC
	`, orchID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		decodeDeps(t)
	}
	return tasks, nil
}

// MarkOrchestrationStarted moves a pending orchestration to running.
func (s *Store) MarkOrchestrationStarted(ctx context.Context, orchID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations SET status = ?, started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status = ?
	`, v1.OrchestrationStatusRunning, time.Now().UTC(), orchID, v1.OrchestrationStatusPending)
	return err
}

// RecomputeOrchestrationAggregate recounts member outcomes and derives
// the aggregate status: completed iff all members completed, failed iff
// any member failed and the rest are terminal. Called on every
// member-terminal event.
func (s *Store) RecomputeOrchestrationAggregate(ctx context.Context, orchID int64) (*models.Orchestration, error) {
	var orch *models.Orchestration
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var counts struct {
			Total     int `db:"total"`
			Completed int `db:"completed"`
			Failed    int `db:"failed"`
			Skipped   int `db:"skipped"`
			Cancelled int `db:"cancelled"`
			Terminal  int `db:"terminal"`
		}
		err := tx.GetContext(ctx, &counts, `
			SELECT
				COUNT(*) AS total,
				COALESCE(SUM(status = 'completed'), 0) AS completed,
				COALESCE(SUM(status = 'failed'), 0) AS failed,
				COALESCE(SUM(status = 'skipped'), 0) AS skipped,
				COALESCE(SUM(status = 'cancelled'), 0) AS cancelled,
				COALESCE(SUM(status IN ('completed', 'failed', 'skipped', 'cancelled')), 0) AS terminal
			FROM tasks WHERE orchestration_id = ?
		`, orchID)
		if err != nil {
			return err
		}

		status := v1.OrchestrationStatusRunning
		var endedAt any
		allTerminal := counts.Terminal == counts.Total
		switch {
		case allTerminal && counts.Completed == counts.Total:
			status = v1.OrchestrationStatusCompleted
		case allTerminal && counts.Cancelled > 0 && counts.Failed == 0:
			status = v1.OrchestrationStatusCancelled
		case allTerminal && counts.Failed > 0:
			status = v1.OrchestrationStatusFailed
		case allTerminal:
			// All terminal with skips but no failure or cancel; the
			// skip root cause was a cancel or failure outside the
			// group, treat as failed.
			status = v1.OrchestrationStatusFailed
		}
		if allTerminal {
			endedAt = time.Now().UTC()
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE orchestrations
			SET status = ?, completed_tasks = ?, failed_tasks = ?, skipped_tasks = ?,
				ended_at = COALESCE(ended_at, ?)
			WHERE id = ?
		`, status, counts.Completed, counts.Failed, counts.Skipped, endedAt, orchID); err != nil {
			return err
		}

		orch = &models.Orchestration{
			ID:             orchID,
			Status:         status,
			TotalTasks:     counts.Total,
			CompletedTasks: counts.Completed,
			FailedTasks:    counts.Failed,
			SkippedTasks:   counts.Skipped,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orch, nil
}

// CancelOrchestrationRow marks an orchestration cancelled.
func (s *Store) CancelOrchestrationRow(ctx context.Context, orchID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orchestrations SET status = ?, ended_at = COALESCE(ended_at, ?)
		WHERE id = ?
	`, v1.OrchestrationStatusCancelled, time.Now().UTC(), orchID)
	return err
}
