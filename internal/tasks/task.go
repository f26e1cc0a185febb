package tasks

import (
	"time"
)

// SyncState is the explicit synchronization state of a task.
// A task needs sync iff its state is not StateClean.
type SyncState string

const (
	StateClean   SyncState = "clean"
	StateDirty   SyncState = "dirty"
	StateSyncing SyncState = "syncing"
	StateError   SyncState = "error"
)

// Task is a single to-do item as kept on the device.
//
// ID is the local identifier and never changes. ServerID is the identifier
// issued by the remote table and stays empty until the first successful create.
type Task struct {
	ID          string    `json:"id"`
	ServerID    string    `json:"serverId,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	NeedsSync   bool      `json:"needsSync"`
	SyncState   SyncState `json:"syncState"`
	SyncError   string    `json:"syncError,omitempty"`
	UserID      string    `json:"userId,omitempty"`
}

// TaskPatch carries the fields of an update. Nil fields are left untouched.
type TaskPatch struct {
	Title       *string
	Description *string
	Completed   *bool
}

func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil
}

// MergeStats summarizes a MergeRemote call.
type MergeStats struct {
	Added   int
	Updated int
	Removed int
	Skipped int
}

func (s MergeStats) Changed() bool {
	return s.Added+s.Updated+s.Removed > 0
}
