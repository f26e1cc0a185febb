package cli

import (
	"fmt"

	"github.com/dmitrijs2005/tasksync/internal/reconciler"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

const shortIDLen = 8

// short trims an id to the prefix shown in listings. Resolve accepts it back.
func short(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[:shortIDLen]
}

func formatTask(t tasks.Task) string {
	box := "[ ]"
	if t.Completed {
		box = "[x]"
	}

	s := fmt.Sprintf("%s %s  %s", box, short(t.ID), t.Title)
	switch t.SyncState {
	case tasks.StateError:
		s += "  (sync failed: " + t.SyncError + ")"
	case tasks.StateDirty, tasks.StateSyncing:
		s += "  (not synced)"
	}
	return s
}

func formatResult(r reconciler.Result) string {
	s := fmt.Sprintf("pushed %d/%d, failed %d, deleted %d", r.Synced, r.Attempted, r.Failed, r.Deleted)
	if r.Skipped > 0 {
		s += fmt.Sprintf(", waiting %d", r.Skipped)
	}
	if r.Pulled.Changed() {
		s += fmt.Sprintf(", pulled +%d ~%d -%d", r.Pulled.Added, r.Pulled.Updated, r.Pulled.Removed)
	}
	return s
}
