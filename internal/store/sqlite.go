package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dollforge/internal/model"

	_ "modernc.org/sqlite"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
    id             TEXT PRIMARY KEY,
    stage          TEXT NOT NULL,
    status         TEXT NOT NULL,
    model          TEXT NOT NULL,
    size           TEXT NOT NULL,
    aspect_ratio   TEXT NOT NULL,
    input_images   TEXT NOT NULL,
    output_images  TEXT,
    remote_task_id TEXT NOT NULL DEFAULT '',
    error_message  TEXT NOT NULL DEFAULT '',
    start_time     DATETIME NOT NULL,
    end_time       DATETIME,
    duration       REAL
)`

const createTaskLogsTable = `
CREATE TABLE IF NOT EXISTS task_logs (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id    TEXT NOT NULL,
    seq        INTEGER NOT NULL,
    line       TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`

const createTaskLogsIndex = `
CREATE INDEX IF NOT EXISTS idx_task_logs_task_seq ON task_logs(task_id, seq)`

const createSettingsTable = `
CREATE TABLE IF NOT EXISTS settings (
    id  INTEGER PRIMARY KEY CHECK (id = 1),
    raw BLOB NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createTasksTable, createTaskLogsTable, createTaskLogsIndex, createSettingsTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateTask inserts a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *model.Task) error {
	inputs, err := json.Marshal(t.InputImages)
	if err != nil {
		return fmt.Errorf("encode input images: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (
			id, stage, status, model, size, aspect_ratio,
			input_images, remote_task_id, error_message, start_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Stage), t.Status, t.Model, t.Size, t.AspectRatio,
		string(inputs), t.RemoteTaskID, t.ErrorMessage, t.StartTime,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID with its log stream hydrated.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, stage, status, model, size, aspect_ratio,
			input_images, output_images, remote_task_id, error_message,
			start_time, end_time, duration
		FROM tasks WHERE id = ?`, id,
	)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}

	if t.Logs, err = s.logLines(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns the full task history, most-recent-first, each task
// hydrated with its log lines. The read never mutates stored records.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, stage, status, model, size, aspect_ratio,
			input_images, output_images, remote_task_id, error_message,
			start_time, end_time, duration
		FROM tasks ORDER BY id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	for _, t := range tasks {
		if t.Logs, err = s.logLines(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// scanner abstracts *sql.Row and *sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.Task, error) {
	t := &model.Task{}
	var stage, inputs string
	var outputs *string
	if err := row.Scan(
		&t.ID, &stage, &t.Status, &t.Model, &t.Size, &t.AspectRatio,
		&inputs, &outputs, &t.RemoteTaskID, &t.ErrorMessage,
		&t.StartTime, &t.EndTime, &t.Duration,
	); err != nil {
		return nil, err
	}
	t.Stage = model.Stage(stage)

	if err := json.Unmarshal([]byte(inputs), &t.InputImages); err != nil {
		return nil, fmt.Errorf("decode input images: %w", err)
	}
	if outputs != nil && *outputs != "" {
		if err := json.Unmarshal([]byte(*outputs), &t.OutputImages); err != nil {
			return nil, fmt.Errorf("decode output images: %w", err)
		}
	}
	return t, nil
}

// UpdateTask merges the given fields into the existing record. Absent ids
// are a no-op. Status changes are guarded by the transition table, so a
// terminal status is never overwritten.
func (s *SQLiteStore) UpdateTask(ctx context.Context, id string, u model.TaskUpdate) error {
	var sets []string
	var args []any

	if u.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *u.Status)
	}
	if u.RemoteTaskID != nil {
		sets = append(sets, "remote_task_id = ?")
		args = append(args, *u.RemoteTaskID)
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *u.ErrorMessage)
	}
	if u.OutputImages != nil {
		outputs, err := json.Marshal(u.OutputImages)
		if err != nil {
			return fmt.Errorf("encode output images: %w", err)
		}
		sets = append(sets, "output_images = ?")
		args = append(args, string(outputs))
	}
	if u.EndTime != nil {
		sets = append(sets, "end_time = ?")
		args = append(args, *u.EndTime)
	}
	if u.Duration != nil {
		sets = append(sets, "duration = ?")
		args = append(args, *u.Duration)
	}

	if len(sets) == 0 {
		return nil
	}

	query := "UPDATE tasks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)
	if u.Status != nil {
		// A status write only lands when the transition table allows the
		// current status to move to the new one; terminal statuses have no
		// outgoing transitions and stay monotone.
		sources := model.TransitionSources(*u.Status)
		if len(sources) == 0 {
			return nil
		}
		query += " AND status IN (?" + strings.Repeat(", ?", len(sources)-1) + ")"
		for _, from := range sources {
			args = append(args, from)
		}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return nil
}

// AppendTaskLog appends a timestamped line to the task's log stream and
// returns the formatted line. Appends are independent of the task row, so
// hot log writes never contend with status updates.
func (s *SQLiteStore) AppendTaskLog(ctx context.Context, taskID, message string) (string, error) {
	now := time.Now()
	line := fmt.Sprintf("[%s] %s", now.Format("15:04:05"), message)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_logs (task_id, seq, line, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), -1) + 1 FROM task_logs WHERE task_id = ?), ?, ?)`,
		taskID, taskID, line, now.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("append task log: %w", err)
	}
	return line, nil
}

// logLines reads the full log stream for a task in append order.
func (s *SQLiteStore) logLines(ctx context.Context, taskID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT line FROM task_logs WHERE task_id = ? ORDER BY seq ASC", taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("get task logs: %w", err)
	}
	defer rows.Close()

	lines := []string{}
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}

// RecoverStartup marks every non-terminal task as failed with RestartReason.
// Only status, end_time and error_message change; everything else, the log
// stream included, is left intact.
func (s *SQLiteStore) RecoverStartup(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, error_message = ?, end_time = ? WHERE status IN (?, ?)",
		model.StatusFailed, RestartReason, time.Now().UTC(),
		model.StatusPending, model.StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("recover tasks: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return int(n), nil
}

// GetSettings returns the stored settings merged over the documented
// defaults. On first read the default document is written back so a config
// record always exists afterwards.
func (s *SQLiteStore) GetSettings(ctx context.Context) (model.Settings, error) {
	settings := model.DefaultSettings()

	raw, err := s.GetSettingsRaw(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		seed, mErr := json.Marshal(settings)
		if mErr != nil {
			return settings, fmt.Errorf("encode default settings: %w", mErr)
		}
		if sErr := s.SaveSettings(ctx, seed); sErr != nil {
			return settings, sErr
		}
		return settings, nil
	}
	if err != nil {
		return settings, err
	}

	// Unmarshalling over the default struct is the merge: keys present in
	// the document win, absent keys keep their default.
	if err := json.Unmarshal(raw, &settings); err != nil {
		return settings, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// GetSettingsRaw returns the stored settings document verbatim. It returns
// sql.ErrNoRows when no document has been saved yet.
func (s *SQLiteStore) GetSettingsRaw(ctx context.Context) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, "SELECT raw FROM settings WHERE id = 1").Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get settings: %w", err)
	}
	return raw, nil
}

// SaveSettings persists the given JSON document byte-for-byte.
func (s *SQLiteStore) SaveSettings(ctx context.Context, raw []byte) error {
	if !json.Valid(raw) {
		return errors.New("settings document is not valid JSON")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (id, raw) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET raw = excluded.raw`, raw,
	)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// GetTaskStats aggregates execution statistics over the task history.
func (s *SQLiteStore) GetTaskStats(ctx context.Context) (*TaskStats, error) {
	stats := &TaskStats{
		CountByStatus: make(map[string]int),
		CountByStage:  make(map[string]int),
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	rows.Close()

	rows, err = tx.QueryContext(ctx, "SELECT stage, COUNT(*) FROM tasks GROUP BY stage")
	if err != nil {
		return nil, fmt.Errorf("count by stage: %w", err)
	}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan stage count: %w", err)
		}
		stats.CountByStage[stage] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate stage counts: %w", err)
	}
	rows.Close()

	var avg sql.NullFloat64
	if err := tx.QueryRowContext(ctx, "SELECT AVG(duration) FROM tasks WHERE duration IS NOT NULL").Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationS = avg.Float64
	}

	return stats, nil
}
