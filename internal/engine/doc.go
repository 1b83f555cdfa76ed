// Package engine provides the task execution engine: a validating,
// bounded-concurrency FIFO scheduler and the per-task pipeline that stages
// inputs to object storage, drives the remote generation service to
// completion, and persists every state change and log line through the
// store.
package engine
