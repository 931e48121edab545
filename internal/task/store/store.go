// Package store is the sole gateway to persistent state. Every
// mutation runs in a short transaction on a single sqlite connection;
// the file itself is the serializer, so the pool is pinned to one
// connection rather than layered on top of it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/taskforge/taskforge/internal/common/logger"
	"github.com/taskforge/taskforge/internal/task/logsink"
	"github.com/taskforge/taskforge/internal/task/models"
	v1 "github.com/taskforge/taskforge/pkg/api/v1"
)

// Common errors
var (
	ErrTaskNotFound          = errors.New("task not found")
	ErrOrchestrationNotFound = errors.New("orchestration not found")
	// ErrStatusConflict is returned when a compare-and-set transition
	// finds the row in a different state than expected.
	ErrStatusConflict = errors.New("task status conflict")
)

// Store provides serialized access to the tasks database.
type Store struct {
	db     *sqlx.DB
	logDir string
	logger *logger.Logger
}

// NewStore opens (or creates) the sqlite database at dbPath and
// prepares the schema. logDir is where per-task log files are placed;
// their paths are precomputed at insert.
func NewStore(dbPath, logDir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer; a wider pool just adds race
	// windows on a single-file engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		logDir: logDir,
		logger: log.WithFields(zap.String("component", "store")),
	}

	if err := s.verifyIntegrity(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// verifyIntegrity refuses to run on a corrupted state file.
func (s *Store) verifyIntegrity() error {
	var result string
	if err := s.db.Get(&result, "PRAGMA quick_check"); err != nil {
		return fmt.Errorf("state file integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("state file is corrupted: %s", result)
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS orchestrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		status TEXT NOT NULL DEFAULT 'pending',
		total_tasks INTEGER NOT NULL DEFAULT 0,
		completed_tasks INTEGER NOT NULL DEFAULT 0,
		failed_tasks INTEGER NOT NULL DEFAULT 0,
		skipped_tasks INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		status TEXT NOT NULL DEFAULT 'pending',
		model_tier TEXT NOT NULL DEFAULT 'balanced',
		working_dir TEXT NOT NULL,
		system_prompt TEXT NOT NULL DEFAULT '',
		execution_prompt TEXT NOT NULL,
		summary_log_path TEXT NOT NULL DEFAULT '',
		detailed_log_path TEXT NOT NULL DEFAULT '',
		last_action TEXT NOT NULL DEFAULT '',
		final_summary TEXT,
		error_message TEXT,
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		ended_at DATETIME,
		worker_pid INTEGER,
		orchestration_id INTEGER REFERENCES orchestrations(id),
		task_identifier TEXT NOT NULL DEFAULT '',
		depends_on TEXT NOT NULL DEFAULT '[]',
		wait_after_dependencies REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_orchestration_id ON tasks(orchestration_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_orch_identifier
		ON tasks(orchestration_id, task_identifier)
		WHERE orchestration_id IS NOT NULL;
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const taskColumns = `id, status, model_tier, working_dir, system_prompt, execution_prompt,
	summary_log_path, detailed_log_path, last_action, final_summary, error_message,
	created_at, started_at, ended_at, worker_pid,
	orchestration_id, task_identifier, depends_on, wait_after_dependencies`

// CreateTask allocates an id, precomputes the log paths and writes the
// row in state pending, all in one transaction.
func (s *Store) CreateTask(ctx context.Context, input models.TaskInput) (*models.Task, error) {
	var task *models.Task
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		task, err = s.insertTask(ctx, tx, nil, input, v1.TaskStatusPending)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task created",
		zap.Int64("task_id", task.ID),
		zap.String("model_tier", string(task.ModelTier)))
	return task, nil
}

// insertTask writes one row and backfills its log paths (the filename
// contains the freshly assigned id). Caller owns the transaction.
func (s *Store) insertTask(ctx context.Context, tx *sqlx.Tx, orchID *int64, input models.TaskInput, status v1.TaskStatus) (*models.Task, error) {
	now := time.Now().UTC()
	tier := input.ModelTier
	if tier == "" {
		tier = v1.ModelTierBalanced
	}
	dependsOn, err := json.Marshal(input.DependsOn)
	if err != nil {
		return nil, err
	}
	if input.DependsOn == nil {
		dependsOn = []byte("[]")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tasks (status, model_tier, working_dir, system_prompt, execution_prompt,
			created_at, orchestration_id, task_identifier, depends_on, wait_after_dependencies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, status, tier, input.WorkingDir, input.SystemPrompt, input.ExecutionPrompt,
		now, orchID, input.TaskIdentifier, string(dependsOn), input.WaitAfterDeps)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	summaryPath, detailedPath := logsink.TaskLogPaths(s.logDir, id, input.WorkingDir, now)
	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET summary_log_path = ?, detailed_log_path = ? WHERE id = ?
	`, summaryPath, detailedPath, id); err != nil {
		return nil, err
	}

	return &models.Task{
		ID:              id,
		Status:          status,
		ModelTier:       tier,
		WorkingDir:      input.WorkingDir,
		SystemPrompt:    input.SystemPrompt,
		ExecutionPrompt: input.ExecutionPrompt,
		SummaryLogPath:  summaryPath,
		DetailedLogPath: detailedPath,
		CreatedAt:       now,
		OrchestrationID: orchID,
		TaskIdentifier:  input.TaskIdentifier,
		DependsOn:       input.DependsOn,
		DependsOnRaw:    string(dependsOn),
		WaitAfterDeps:   input.WaitAfterDeps,
	}, nil
}

// GetTask retrieves a task by id.
func (s *Store) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	var task models.Task
	err := s.db.GetContext(ctx, &task, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	decodeDeps(&task)
	return &task, nil
}

// ListTasks returns tasks, newest first, optionally filtered by status.
// limit <= 0 means no limit.
func (s *Store) ListTasks(ctx context.Context, status v1.TaskStatus, limit int) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var tasks []*models.Task
	if err := s.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		decodeDeps(t)
	}
	return tasks, nil
}

// TransitionPatch carries the fields updated together with a status
// change.
type TransitionPatch struct {
	WorkerPID *int64
}

// Transition performs a compare-and-set on the task status. The update
// fails with ErrStatusConflict when the row is not in `from`.
// Timestamps are maintained here: entering running sets started_at,
// entering a terminal state sets ended_at.
func (s *Store) Transition(ctx context.Context, id int64, from, to v1.TaskStatus, patch *TransitionPatch) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		query := `UPDATE tasks SET status = ?`
		args := []any{to}

		if to == v1.TaskStatusRunning {
			query += `, started_at = COALESCE(started_at, ?)`
			args = append(args, now)
		}
		if to.IsTerminal() {
			query += `, ended_at = ?`
			args = append(args, now)
		}
		if patch != nil && patch.WorkerPID != nil {
			query += `, worker_pid = ?`
			args = append(args, *patch.WorkerPID)
		}
		query += ` WHERE id = ? AND status = ?`
		args = append(args, id, from)

		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			var exists int
			if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM tasks WHERE id = ?`, id); err != nil {
				return err
			}
			if exists == 0 {
				return ErrTaskNotFound
			}
			return fmt.Errorf("%w: task %d is not '%s'", ErrStatusConflict, id, from)
		}
		return nil
	})
}

// AppendAction updates the last_action cache. The value only ever
// advances; it is never cleared once set.
func (s *Store) AppendAction(ctx context.Context, id int64, line string) error {
	if line == "" {
		return nil
	}
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET last_action = ? WHERE id = ?`, line, id)
	if err != nil {
		return err
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// Outcome is the terminal result applied by Finalize. Exactly one of
// FinalSummary and ErrorMessage is persisted.
type Outcome struct {
	Status       v1.TaskStatus
	FinalSummary string
	ErrorMessage string
}

// Finalize moves a task from `from` into a terminal state and records
// its outcome. Exactly one of final_summary / error_message is set.
func (s *Store) Finalize(ctx context.Context, id int64, from v1.TaskStatus, outcome Outcome) error {
	if !outcome.Status.IsTerminal() {
		return fmt.Errorf("finalize requires a terminal status, got '%s'", outcome.Status)
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		var finalSummary, errorMessage any
		switch outcome.Status {
		case v1.TaskStatusCompleted:
			finalSummary = outcome.FinalSummary
		default:
			errorMessage = outcome.ErrorMessage
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, final_summary = ?, error_message = ?, ended_at = ?
			WHERE id = ? AND status = ?
		`, outcome.Status, finalSummary, errorMessage, now, id, from)
		if err != nil {
			return err
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			var exists int
			if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM tasks WHERE id = ?`, id); err != nil {
				return err
			}
			if exists == 0 {
				return ErrTaskNotFound
			}
			return fmt.Errorf("%w: task %d is not '%s'", ErrStatusConflict, id, from)
		}
		return nil
	})
}

// LoadPendingOnStartup returns the rows left in non-terminal states by
// a previous process. The scheduler re-queues them.
func (s *Store) LoadPendingOnStartup(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	err := s.db.SelectContext(ctx, &tasks, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN (?, ?, ?)
		ORDER BY id ASC
	`, v1.TaskStatusPending, v1.TaskStatusWaiting, v1.TaskStatusRunning)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		decodeDeps(t)
	}
	return tasks, nil
}

// withTx executes fn within a transaction, rolling back on error or
// panic.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx failed: %w, rollback failed: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func decodeDeps(t *models.Task) {
	if t.DependsOnRaw == "" {
		return
	}
	_ = json.Unmarshal([]byte(t.DependsOnRaw), &t.DependsOn)
}
