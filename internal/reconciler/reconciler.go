// Package reconciler pushes locally dirty tasks to the remote table and
// folds the outcome back into the task store.
//
// A pass drains pending remote deletes first and then walks the dirty tasks
// one at a time, in collection order. A failed push leaves the task dirty and
// delays its next attempt with exponential backoff. Only one pass runs at a
// time.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/dmitrijs2005/tasksync/internal/remote"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

// SessionReader yields the signed-in user.
type SessionReader interface {
	UserID(ctx context.Context) (string, error)
}

type Options struct {
	// Force ignores backoff and reports failures as ErrSyncIncomplete.
	Force bool
	// Pull fetches the remote listing after pushing and merges it.
	Pull bool
}

type Result struct {
	Attempted int
	Synced    int
	Failed    int
	Skipped   int
	// Requeued counts pushes that succeeded while the task was edited
	// locally; those tasks stay dirty.
	Requeued int
	Deleted  int
	Pulled   tasks.MergeStats
	// Errors is keyed by local task id, or by server id for deletes.
	Errors map[string]error
}

type Config struct {
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

type Reconciler struct {
	store   *tasks.Store
	tombs   *tasks.Tombstones
	gw      remote.Gateway
	session SessionReader
	log     logging.Logger

	backoff *backoff
	running atomic.Bool
	now     func() time.Time
}

func New(store *tasks.Store, tombs *tasks.Tombstones, gw remote.Gateway, session SessionReader, cfg Config, log logging.Logger) *Reconciler {
	return &Reconciler{
		store:   store,
		tombs:   tombs,
		gw:      gw,
		session: session,
		log:     logging.OrNop(log).With("module", "reconciler"),
		backoff: newBackoff(cfg.BackoffBase, cfg.BackoffMax),
		now:     time.Now,
	}
}

// Reconcile runs one pass. It returns ErrNoSession without touching anything
// when nobody is signed in and ErrSyncInProgress when another pass is running.
// With opts.Force any failure yields ErrSyncIncomplete along with the result.
func (r *Reconciler) Reconcile(ctx context.Context, opts Options) (Result, error) {
	if !r.running.CompareAndSwap(false, true) {
		return Result{}, common.ErrSyncInProgress
	}
	defer r.running.Store(false)

	uid, err := r.session.UserID(ctx)
	if err != nil {
		if errors.Is(err, common.ErrNoSession) {
			return Result{}, err
		}
		return Result{}, fmt.Errorf("%w: %w", common.ErrNoSession, err)
	}

	res := Result{Errors: make(map[string]error)}

	if r.tombs != nil {
		r.drainDeletes(ctx, uid, &res)
	}

	for _, t := range r.store.GetTasksToSync() {
		if ctx.Err() != nil {
			break
		}
		if !opts.Force && !r.backoff.ready(t.ID, r.now()) {
			res.Skipped++
			continue
		}

		res.Attempted++
		synced, err := r.push(ctx, uid, t)
		switch {
		case err != nil:
			res.Failed++
			res.Errors[t.ID] = err
			d := r.backoff.fail(t.ID, r.now())
			r.log.Warn(ctx, "task push failed", "task_id", t.ID, "retry_in", d.String(), "error", err)
		case synced:
			res.Synced++
			r.backoff.reset(t.ID)
		default:
			res.Requeued++
			r.backoff.reset(t.ID)
		}
	}

	if opts.Pull && ctx.Err() == nil {
		rows, err := r.gw.List(ctx, uid)
		if err != nil {
			res.Failed++
			res.Errors["pull"] = err
			r.log.Warn(ctx, "pull failed", "error", err)
		} else {
			res.Pulled = r.store.MergeRemote(ctx, r.withoutPendingDeletes(ctx, rows))
		}
	}

	r.log.Info(ctx, "sync pass finished",
		"attempted", res.Attempted, "synced", res.Synced, "failed", res.Failed,
		"skipped", res.Skipped, "deleted", res.Deleted)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("%w: %w", common.ErrSyncIncomplete, err)
	}
	if opts.Force && res.Failed > 0 {
		return res, fmt.Errorf("%w: %d failed", common.ErrSyncIncomplete, res.Failed)
	}
	return res, nil
}

// push sends one task. synced is false when the push went through but the
// task was edited meanwhile.
func (r *Reconciler) push(ctx context.Context, uid string, t tasks.Task) (synced bool, err error) {
	owner := t.UserID
	if owner == "" {
		owner = uid
	}

	r.store.MarkSyncing(ctx, t.ID)
	in := remote.InputFrom(t)

	if t.ServerID == "" {
		row, err := r.gw.Create(ctx, owner, in)
		if err != nil {
			r.store.MarkSyncFailed(ctx, t.ID, err.Error())
			return false, err
		}
		if !r.store.AssignServerID(ctx, t.ID, row.ServerID) && r.tombs != nil {
			// removed locally while the create was in flight
			r.tombs.Add(ctx, tasks.Tombstone{ID: t.ID, ServerID: row.ServerID, UserID: owner, DeletedAt: r.now().UTC()})
			return false, nil
		}
	} else {
		_, err := r.gw.Update(ctx, owner, t.ServerID, in)
		if err != nil {
			if errors.Is(err, common.ErrNotFound) {
				// the row is gone remotely; recreate it next time
				r.store.AssignServerID(ctx, t.ID, "")
			}
			r.store.MarkSyncFailed(ctx, t.ID, err.Error())
			return false, err
		}
	}

	return r.store.MarkSyncedAt(ctx, t.ID, t.UpdatedAt), nil
}

// withoutPendingDeletes drops rows the user already deleted locally but whose
// remote delete has not gone through yet.
func (r *Reconciler) withoutPendingDeletes(ctx context.Context, rows []tasks.Task) []tasks.Task {
	if r.tombs == nil {
		return rows
	}
	pending := r.tombs.List(ctx)
	if len(pending) == 0 {
		return rows
	}

	deleted := make(map[string]struct{}, len(pending))
	for _, ts := range pending {
		deleted[ts.ServerID] = struct{}{}
	}

	out := make([]tasks.Task, 0, len(rows))
	for _, row := range rows {
		if _, ok := deleted[row.ServerID]; ok {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (r *Reconciler) drainDeletes(ctx context.Context, uid string, res *Result) {
	for _, ts := range r.tombs.List(ctx) {
		if ctx.Err() != nil {
			return
		}

		owner := ts.UserID
		if owner == "" {
			owner = uid
		}

		err := r.gw.Delete(ctx, owner, ts.ServerID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			res.Failed++
			res.Errors[ts.ServerID] = err
			r.log.Warn(ctx, "remote delete failed", "server_id", ts.ServerID, "error", err)
			continue
		}

		r.tombs.Remove(ctx, ts.ServerID)
		res.Deleted++
	}
}

