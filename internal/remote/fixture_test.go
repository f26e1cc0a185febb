package remote

import (
	"time"

	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

func taskFixture(now time.Time) tasks.Task {
	return tasks.Task{
		ID:          "l1",
		ServerID:    "srv-1",
		Title:       "a",
		Description: "d",
		Completed:   true,
		UpdatedAt:   now,
		NeedsSync:   true,
		SyncState:   tasks.StateDirty,
	}
}
