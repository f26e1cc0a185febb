package cli

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/kv"
	"github.com/dmitrijs2005/tasksync/internal/reconciler"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

func (a *App) requestSync() {
	if a.scheduler != nil {
		a.scheduler.Trigger()
	}
}

// taskArg resolves the task named by the first argument, prompting when
// there is none.
func (a *App) taskArg(ctx context.Context, args []string, prompt string) (tasks.Task, error) {
	var id string
	if len(args) > 0 {
		id = args[0]
	} else {
		v, err := getSimpleText(a.reader, prompt, a.out)
		if err != nil {
			return tasks.Task{}, err
		}
		id = v
	}
	return a.tasks.Resolve(ctx, id)
}

// Add creates a task. "add buy milk" uses the arguments as the title; plain
// "add" prompts for a title and a description.
func (a *App) Add(ctx context.Context, args []string) error {
	var title, description string

	if len(args) > 0 {
		title = strings.Join(args, " ")
	} else {
		var err error
		if title, err = getSimpleText(a.reader, "Enter title", a.out); err != nil {
			return err
		}
		if description, err = getMultiline(a.reader, "Enter description", a.out); err != nil {
			return err
		}
	}

	t, err := a.tasks.Add(ctx, title, description)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added %s\n", short(t.ID))
	a.requestSync()
	return nil
}

func (a *App) List(ctx context.Context, _ []string) error {
	list, err := a.tasks.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No tasks")
		return nil
	}
	for _, t := range list {
		fmt.Fprintln(a.out, formatTask(t))
	}
	return nil
}

// Pending lists the local changes the server has not seen yet.
func (a *App) Pending(ctx context.Context, _ []string) error {
	list := a.tasks.Pending(ctx)
	deletes := a.tasks.PendingDeletes(ctx)

	if len(list) == 0 && deletes == 0 {
		fmt.Fprintln(a.out, "Everything is synced")
		return nil
	}
	for _, t := range list {
		fmt.Fprintln(a.out, formatTask(t))
	}
	if deletes > 0 {
		fmt.Fprintf(a.out, "%d pending delete(s)\n", deletes)
	}
	return nil
}

// Edit changes the title and description of a task. Empty answers keep the
// current values.
func (a *App) Edit(ctx context.Context, args []string) error {
	t, err := a.taskArg(ctx, args, "Enter task id to edit")
	if err != nil {
		return err
	}

	var patch tasks.TaskPatch

	title, err := getSimpleText(a.reader, fmt.Sprintf("New title (empty keeps %q)", t.Title), a.out)
	if err != nil {
		return err
	}
	if title != "" && title != t.Title {
		patch.Title = &title
	}

	description, err := getMultiline(a.reader, "New description (empty keeps the current one)", a.out)
	if err != nil {
		return err
	}
	if description != "" && description != t.Description {
		patch.Description = &description
	}

	if patch.Empty() {
		fmt.Fprintln(a.out, "Nothing to change")
		return nil
	}

	updated, err := a.tasks.Edit(ctx, t.ID, patch)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, formatTask(updated))
	a.requestSync()
	return nil
}

func (a *App) Toggle(ctx context.Context, args []string) error {
	t, err := a.taskArg(ctx, args, "Enter task id to toggle")
	if err != nil {
		return err
	}
	updated, err := a.tasks.Toggle(ctx, t.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, formatTask(updated))
	a.requestSync()
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	t, err := a.taskArg(ctx, args, "Enter task id to delete")
	if err != nil {
		return err
	}
	if err := a.tasks.Delete(ctx, t.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", short(t.ID))
	return nil
}

// Sync pushes every pending change now, ignoring retry delays.
func (a *App) Sync(ctx context.Context, _ []string) error {
	res, err := a.tasks.SyncNow(ctx)
	return a.reportSync(res, err)
}

// Refresh pushes pending changes and then reloads the server copy.
func (a *App) Refresh(ctx context.Context, _ []string) error {
	res, err := a.tasks.Refresh(ctx)
	return a.reportSync(res, err)
}

func (a *App) reportSync(res reconciler.Result, err error) error {
	switch {
	case errors.Is(err, common.ErrNoSession):
		return fmt.Errorf("sign in first: %w", err)
	case errors.Is(err, common.ErrSyncInProgress):
		fmt.Fprintln(a.out, "A sync is already running")
		return nil
	}

	fmt.Fprintln(a.out, formatResult(res))
	for id, e := range res.Errors {
		fmt.Fprintf(a.out, "  %s: %v\n", short(id), e)
	}
	return err
}

func (a *App) Status(ctx context.Context, _ []string) error {
	user := "not signed in"
	if uid, err := a.auth.CurrentUser(ctx); err == nil {
		user = uid
	}

	list, err := a.tasks.List(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "User:            %s\n", user)
	fmt.Fprintf(a.out, "Mode:            %s\n", a.Mode())
	fmt.Fprintf(a.out, "Tasks:           %d\n", len(list))
	fmt.Fprintf(a.out, "Pending changes: %d\n", len(a.tasks.Pending(ctx)))
	fmt.Fprintf(a.out, "Pending deletes: %d\n", a.tasks.PendingDeletes(ctx))
	if stats := a.tasks.StorageStats(ctx); len(stats) > 0 {
		fmt.Fprintf(a.out, "Stored keys:     %s\n", formatStats(stats))
	}

	if a.scheduler != nil {
		fmt.Fprintf(a.out, "Sync passes:     %d\n", a.scheduler.Passes())
		at, res, lastErr := a.scheduler.Last()
		switch {
		case at.IsZero():
			fmt.Fprintln(a.out, "Last sync:       never")
		case lastErr != nil:
			fmt.Fprintf(a.out, "Last sync:       %s (%v)\n", at.Local().Format("2006-01-02 15:04:05"), lastErr)
		default:
			fmt.Fprintf(a.out, "Last sync:       %s, %s\n", at.Local().Format("2006-01-02 15:04:05"), formatResult(res))
		}
	}
	return nil
}

// formatStats renders per-namespace key counts in namespace order.
func formatStats(stats map[kv.Namespace]int) string {
	parts := make([]string, 0, len(stats))
	for _, ns := range slices.Sorted(maps.Keys(stats)) {
		parts = append(parts, fmt.Sprintf("%s=%d", ns, stats[ns]))
	}
	return strings.Join(parts, " ")
}

func (a *App) Backup(ctx context.Context, _ []string) error {
	key, err := a.tasks.Backup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Backup stored as %s\n", key)
	return nil
}
