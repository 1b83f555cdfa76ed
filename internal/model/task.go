package model

import (
	"sort"
	"time"
)

// Task status constants.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Stage identifies one of the fixed transformation pipelines.
type Stage string

// Stage constants.
const (
	StageHairstyleExtraction Stage = "hairstyle_extraction"
	StageDollAssembly        Stage = "doll_assembly"
	StageDollReplacement     Stage = "doll_replacement"
)

// Role is the positional role an input image plays within a stage.
type Role string

// Role constants.
const (
	RoleReference Role = "reference"
	RoleMannequin Role = "mannequin"
	RoleHair      Role = "hair"
	RoleBody      Role = "body"
	RoleCloth     Role = "cloth"
	RoleProduct   Role = "product"
)

// stageRoles declares, per stage, the required input roles in their
// normalized positional order. Exactly one image per role.
var stageRoles = map[Stage][]Role{
	StageHairstyleExtraction: {RoleReference, RoleMannequin},
	StageDollAssembly:        {RoleHair, RoleBody, RoleCloth},
	StageDollReplacement:     {RoleReference, RoleProduct},
}

// StageRoles returns the ordered role list required by the given stage,
// or nil if the stage is unknown.
func StageRoles(stage Stage) []Role {
	return stageRoles[stage]
}

// validTransitions maps each status to the set of statuses it may transition to.
// Terminal statuses (completed, failed) have no outgoing transitions.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusFailed:     true,
	},
	StatusProcessing: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TransitionSources returns, in sorted order, the statuses from which a
// transition to the given status is allowed. The result is empty for
// statuses nothing transitions to, pending included.
func TransitionSources(to string) []string {
	var froms []string
	for from, targets := range validTransitions {
		if targets[to] {
			froms = append(froms, from)
		}
	}
	sort.Strings(froms)
	return froms
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// ImageRef is a reference to a catalog image. The Selected flag is UI state
// carried through for round-tripping; the engine ignores it beyond
// positional ordering.
type ImageRef struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	URL      string `json:"url,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Selected bool   `json:"selected,omitempty"`
}

// Task represents one image-transformation job submitted to the engine.
type Task struct {
	ID           string     `json:"id"`
	Stage        Stage      `json:"stage"`
	Status       string     `json:"status"`
	Model        string     `json:"model"`
	Size         string     `json:"size"`
	AspectRatio  string     `json:"aspectRatio"`
	InputImages  []ImageRef `json:"inputImages"`
	OutputImages []ImageRef `json:"outputImages,omitempty"`
	RemoteTaskID string     `json:"remoteTaskId,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	// Duration in seconds, computed when the task reaches a terminal state.
	Duration *float64 `json:"duration,omitempty"`
	// Logs is hydrated from the task's log stream on read; it is never
	// stored on the task row itself.
	Logs []string `json:"logs"`
}

// TaskUpdate carries a partial set of task fields to merge into an existing
// record. Nil fields are left untouched.
type TaskUpdate struct {
	Status       *string
	RemoteTaskID *string
	ErrorMessage *string
	OutputImages []ImageRef
	EndTime      *time.Time
	Duration     *float64
}
