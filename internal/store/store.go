package store

import (
	"context"
	"errors"

	"dollforge/internal/model"
)

// ErrNotFound is returned when a task is not found.
var ErrNotFound = errors.New("task not found")

// RestartReason is the error message written to every non-terminal task
// found during startup recovery. Queue membership lives only in memory, so
// a task that was pending or processing when the process died can never
// complete.
const RestartReason = "task interrupted by service restart"

// TaskStats holds aggregate execution statistics for the task history.
type TaskStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	CountByStage  map[string]int `json:"count_by_stage"`
	AvgDurationS  float64        `json:"avg_duration_s"`
}

// Store defines the persistence operations for tasks, their log streams,
// and operator settings.
//
// Task-row read-modify-write goes through single UPDATE statements so that
// concurrent pipelines never lose updates to each other. Log appends write
// to a separate append-only table and deliberately stay off that path.
type Store interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]*model.Task, error)
	UpdateTask(ctx context.Context, id string, u model.TaskUpdate) error

	// AppendTaskLog timestamps the message as "[HH:MM:SS] message", appends
	// it to the task's log stream, and returns the formatted line.
	AppendTaskLog(ctx context.Context, taskID, message string) (string, error)

	// RecoverStartup marks every pending or processing task as failed with
	// RestartReason. It must run once, before any new submission is
	// accepted. It returns the number of tasks reconciled.
	RecoverStartup(ctx context.Context) (int, error)

	// GetSettings returns the persisted settings merged over
	// model.DefaultSettings. The default document is synthesized and
	// persisted on first read.
	GetSettings(ctx context.Context) (model.Settings, error)

	// GetSettingsRaw returns the stored settings document exactly as last
	// saved, with no default merging.
	GetSettingsRaw(ctx context.Context) ([]byte, error)

	// SaveSettings persists the given JSON document verbatim.
	SaveSettings(ctx context.Context, raw []byte) error

	GetTaskStats(ctx context.Context) (*TaskStats, error)
	Close() error
}
