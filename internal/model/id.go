package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string for use as a task identifier. ULIDs sort
// lexicographically by creation time, which is what gives the task history
// its most-recent-first ordering.
func NewID() string {
	return ulid.Make().String()
}
