package engine

import (
	"path/filepath"
	"runtime"
	"time"

	"dollforge/internal/genapi"
	"dollforge/internal/model"
)

// execute runs the task pipeline: transfer inputs, build the payload,
// submit, poll until the remote resolves, download the result, finalize.
// Every step writes to the task's log stream; any failure in the sequence
// short-circuits to a terminal failed record. No error escapes the
// goroutine.
func (s *Scheduler) execute(t *model.Task) {
	ctx := s.baseCtx
	logf := s.taskLogf(t.ID)

	tasksInFlight.Inc()
	defer tasksInFlight.Dec()

	processing := model.StatusProcessing
	if err := s.store.UpdateTask(ctx, t.ID, model.TaskUpdate{Status: &processing}); err != nil {
		s.logger.Error("failed to transition to processing", "task_id", t.ID, "error", err)
		s.finishFailed(t, "failed to start: "+err.Error(), logf)
		return
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.finishFailed(t, "load settings: "+err.Error(), logf)
		return
	}

	logf("task started: stage=%s model=%s size=%s ratio=%s", t.Stage, t.Model, t.Size, t.AspectRatio)
	logf("runtime: %d goroutines, %d tasks in flight", runtime.NumGoroutine(), s.InFlight())

	links, err := s.transfer.Upload(ctx, t.InputImages, settings.Storage, logf)
	if err != nil {
		s.finishFailed(t, err.Error(), logf)
		return
	}

	payload := genapi.BuildPayload(t.Model, t.Size, t.AspectRatio, settings.Prompts.ForStage(t.Stage), links)

	logf("submitting generation request")
	remoteID, err := s.gen.Submit(ctx, payload, settings.APIKey, logf)
	if err != nil {
		s.finishFailed(t, err.Error(), logf)
		return
	}

	// Persist the remote handle immediately so it stays visible even if a
	// later step fails.
	if err := s.store.UpdateTask(ctx, t.ID, model.TaskUpdate{RemoteTaskID: &remoteID}); err != nil {
		s.logger.Error("failed to persist remote task id", "task_id", t.ID, "error", err)
	}
	logf("remote task %s accepted, waiting for completion", remoteID)

	resultURL, err := s.gen.Poll(ctx, remoteID, settings.APIKey, logf)
	if err != nil {
		s.finishFailed(t, err.Error(), logf)
		return
	}
	logf("remote task %s finished, downloading result", remoteID)

	localPath, err := s.gen.Download(ctx, resultURL, settings.WorkDir, logf)
	if err != nil {
		s.finishFailed(t, err.Error(), logf)
		return
	}
	logf("result saved to %s", localPath)

	now := time.Now().UTC()
	duration := now.Sub(t.StartTime).Seconds()
	completed := model.StatusCompleted
	update := model.TaskUpdate{
		Status: &completed,
		OutputImages: []model.ImageRef{{
			ID:   model.NewID(),
			Path: localPath,
			URL:  resultURL,
			Name: filepath.Base(localPath),
		}},
		EndTime:  &now,
		Duration: &duration,
	}
	if err := s.store.UpdateTask(ctx, t.ID, update); err != nil {
		s.logger.Error("failed to update completed task", "task_id", t.ID, "error", err)
	}

	logf("task completed in %.1fs", duration)
	tasksFinished.WithLabelValues(string(t.Stage), model.StatusCompleted).Inc()
}

// finishFailed marks a task as failed with the given message and records
// end time and duration. The log stream keeps the full step trace up to
// the failure.
func (s *Scheduler) finishFailed(t *model.Task, msg string, logf func(format string, args ...any)) {
	logf("task failed: %s", msg)

	now := time.Now().UTC()
	duration := now.Sub(t.StartTime).Seconds()
	failed := model.StatusFailed
	update := model.TaskUpdate{
		Status:       &failed,
		ErrorMessage: &msg,
		EndTime:      &now,
		Duration:     &duration,
	}
	if err := s.store.UpdateTask(s.baseCtx, t.ID, update); err != nil {
		s.logger.Error("failed to update failed task", "task_id", t.ID, "error", err)
	}

	tasksFinished.WithLabelValues(string(t.Stage), model.StatusFailed).Inc()
}
