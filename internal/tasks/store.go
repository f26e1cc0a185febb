// Package tasks implements the offline task store: an ordered, persisted
// collection of tasks that tracks which ones still have to be pushed to the
// remote table.
//
// Every successful mutation persists the whole collection under
// app_state/tasks and then notifies subscribers, in mutation order, with the
// new snapshot. Calls on ids that are not in the store are silent no-ops.
package tasks

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/kv"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/google/uuid"
)

// SnapshotKey is the app_state key holding the serialized collection.
const SnapshotKey = "tasks"

// Listener receives the full collection after a mutation. It runs without any
// store lock held, so it may read the store or unsubscribe, but it must not
// mutate the store.
type Listener func(tasks []Task)

type subscriber struct {
	id int
	fn Listener
}

type Store struct {
	mu    sync.Mutex
	tasks []Task

	// changedAt is the wall time of the last commit.
	changedAt time.Time

	// notifyMu is taken before mu is released so that snapshots are queued
	// in the same order the mutations were applied. One committer drains
	// the queue at a time; the others wait until theirs is delivered.
	notifyMu  sync.Mutex
	delivered *sync.Cond
	queue     [][]Task
	queued    uint64
	done      uint64
	draining  bool
	subs      []subscriber
	nextSub   int

	kv  *kv.Store
	log logging.Logger
	now func() time.Time
}

// NewStore loads the persisted snapshot from store. A missing or corrupt
// snapshot yields an empty collection. A nil kv store keeps tasks in memory.
func NewStore(ctx context.Context, store *kv.Store, log logging.Logger) *Store {
	s := &Store{
		kv:  store,
		log: logging.OrNop(log).With("module", "tasks"),
		now: time.Now,
	}
	s.delivered = sync.NewCond(&s.notifyMu)
	s.changedAt = time.Now()

	if store != nil {
		if loaded, ok := kv.Get[[]Task](ctx, store, kv.NamespaceAppState, SnapshotKey); ok {
			s.tasks = normalize(loaded)
		}
	}
	s.log.Debug(ctx, "task store loaded", "count", len(s.tasks))

	return s
}

// normalize repairs state left behind by an interrupted process.
func normalize(in []Task) []Task {
	out := make([]Task, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, t := range in {
		if t.ID == "" {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}

		switch {
		case t.SyncState == StateSyncing:
			t.SyncState = StateDirty
		case t.SyncState == "" && t.NeedsSync:
			t.SyncState = StateDirty
		case t.SyncState == "":
			t.SyncState = StateClean
		}
		t.NeedsSync = t.SyncState != StateClean
		out = append(out, t)
	}
	return out
}

func (s *Store) indexOf(id string) int {
	for i := range s.tasks {
		if s.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) copyLocked() []Task {
	out := make([]Task, len(s.tasks))
	copy(out, s.tasks)
	return out
}

// touch stamps a local edit. UpdatedAt strictly increases so that the
// reconciler can tell an edit made while a push was in flight.
func (s *Store) touch(t *Task) {
	now := s.now().UTC()
	if !now.After(t.UpdatedAt) {
		now = t.UpdatedAt.Add(time.Nanosecond)
	}
	t.UpdatedAt = now
	t.NeedsSync = true
	t.SyncState = StateDirty
	t.SyncError = ""
}

// commit persists the current collection and hands off to notification.
// It must be called with mu held and releases it. It returns once every
// subscriber has seen the snapshot.
func (s *Store) commit(ctx context.Context) {
	snap := s.copyLocked()
	s.changedAt = time.Now()
	if s.kv != nil {
		s.kv.Set(ctx, kv.NamespaceAppState, SnapshotKey, snap)
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.queued++
	mine := s.queued
	s.queue = append(s.queue, snap)
	s.mu.Unlock()

	if s.draining {
		for s.done < mine {
			s.delivered.Wait()
		}
		return
	}

	s.draining = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		subs := slices.Clone(s.subs)

		s.notifyMu.Unlock()
		for _, sub := range subs {
			sub.fn(next)
		}
		s.notifyMu.Lock()

		s.done++
		s.delivered.Broadcast()
	}
	s.draining = false
}

// AddTask inserts t as a new dirty task. An empty ID is replaced by a fresh
// UUID. The stored task is returned.
func (s *Store) AddTask(ctx context.Context, t Task) (Task, error) {
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		return Task{}, fmt.Errorf("%w: title is required", common.ErrInvalidTask)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	s.mu.Lock()
	if s.indexOf(t.ID) >= 0 {
		s.mu.Unlock()
		return Task{}, fmt.Errorf("%w: %s", common.ErrDuplicateID, t.ID)
	}

	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.UpdatedAt.Before(t.CreatedAt) {
		t.UpdatedAt = t.CreatedAt
	}
	t.NeedsSync = true
	t.SyncState = StateDirty
	t.SyncError = ""

	s.tasks = append(s.tasks, t)
	s.log.Debug(ctx, "task added", "task_id", t.ID)
	s.commit(ctx)

	return t, nil
}

// UpdateTask applies the non-nil fields of patch. Returns false when id is
// unknown. A blank title in patch is ignored.
func (s *Store) UpdateTask(ctx context.Context, id string, patch TaskPatch) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	t := &s.tasks[i]
	if patch.Title != nil {
		if title := strings.TrimSpace(*patch.Title); title != "" {
			t.Title = title
		}
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Completed != nil {
		t.Completed = *patch.Completed
	}
	s.touch(t)

	s.log.Debug(ctx, "task updated", "task_id", id)
	s.commit(ctx)
	return true
}

// ToggleTask flips the completed flag. Returns false when id is unknown.
func (s *Store) ToggleTask(ctx context.Context, id string) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	t := &s.tasks[i]
	t.Completed = !t.Completed
	s.touch(t)

	s.log.Debug(ctx, "task toggled", "task_id", id, "completed", t.Completed)
	s.commit(ctx)
	return true
}

// RemoveTask deletes the task locally and returns what was removed. It never
// talks to the remote side.
func (s *Store) RemoveTask(ctx context.Context, id string) (Task, bool) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return Task{}, false
	}

	removed := s.tasks[i]
	s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)

	s.log.Debug(ctx, "task removed", "task_id", id)
	s.commit(ctx)
	return removed, true
}

// GetTasksToSync returns a copy of the tasks with NeedsSync set, in
// collection order.
func (s *Store) GetTasksToSync() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Task
	for _, t := range s.tasks {
		if t.NeedsSync {
			out = append(out, t)
		}
	}
	return out
}

// MarkTaskSynced clears the dirty flag of id. Other fields are unchanged.
func (s *Store) MarkTaskSynced(ctx context.Context, id string) bool {
	return s.markSynced(ctx, id, nil)
}

// MarkSyncedAt clears the dirty flag only if the task has not been edited
// since the version (UpdatedAt) that was pushed.
func (s *Store) MarkSyncedAt(ctx context.Context, id string, version time.Time) bool {
	return s.markSynced(ctx, id, &version)
}

func (s *Store) markSynced(ctx context.Context, id string, version *time.Time) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}

	t := &s.tasks[i]
	if version != nil && !t.UpdatedAt.Equal(*version) {
		s.mu.Unlock()
		s.log.Debug(ctx, "task edited while syncing, keeping dirty", "task_id", id)
		return false
	}

	t.NeedsSync = false
	t.SyncState = StateClean
	t.SyncError = ""

	s.commit(ctx)
	return true
}

// MarkSyncing flags a dirty task as being pushed.
func (s *Store) MarkSyncing(ctx context.Context, id string) bool {
	return s.setState(ctx, id, StateSyncing, "")
}

// MarkSyncFailed records the failure reason. The task stays dirty.
func (s *Store) MarkSyncFailed(ctx context.Context, id, reason string) bool {
	return s.setState(ctx, id, StateError, reason)
}

func (s *Store) setState(ctx context.Context, id string, state SyncState, reason string) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 || !s.tasks[i].NeedsSync {
		s.mu.Unlock()
		return false
	}

	t := &s.tasks[i]
	t.SyncState = state
	t.SyncError = reason

	s.commit(ctx)
	return true
}

// AssignServerID records the remote identifier of id. An empty serverID
// forgets the remote row so that the next push recreates it.
func (s *Store) AssignServerID(ctx context.Context, id, serverID string) bool {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	if s.tasks[i].ServerID == serverID {
		s.mu.Unlock()
		return true
	}

	s.tasks[i].ServerID = serverID
	s.commit(ctx)
	return true
}

// MergeRemote folds a full remote listing into the store. Rows are matched by
// ServerID and then by client id, so a create whose response was lost is
// linked to its local task instead of being added twice. Dirty local tasks
// always win; clean ones take the remote values. Clean tasks whose remote row
// disappeared are dropped. New rows are added as clean tasks.
func (s *Store) MergeRemote(ctx context.Context, remote []Task) MergeStats {
	var st MergeStats
	linked := 0

	s.mu.Lock()
	seen := make(map[string]struct{}, len(remote))
	for _, r := range remote {
		if r.ServerID == "" {
			continue
		}
		seen[r.ServerID] = struct{}{}

		i := s.matchRemote(r)
		if i < 0 {
			t := r
			if t.ID == "" {
				t.ID = r.ServerID
				if s.indexOf(t.ID) >= 0 {
					t.ID = uuid.NewString()
				}
			}
			t.UpdatedAt = notBefore(t.UpdatedAt, t.CreatedAt)
			t.NeedsSync = false
			t.SyncState = StateClean
			t.SyncError = ""
			s.tasks = append(s.tasks, t)
			st.Added++
			continue
		}

		local := &s.tasks[i]
		if local.ServerID != r.ServerID {
			local.ServerID = r.ServerID
			linked++
		}
		if local.NeedsSync {
			st.Skipped++
			continue
		}
		updatedAt := notBefore(r.UpdatedAt, local.CreatedAt)
		if local.Title == r.Title && local.Description == r.Description &&
			local.Completed == r.Completed && local.UpdatedAt.Equal(updatedAt) {
			continue
		}
		if updatedAt.Before(local.UpdatedAt) {
			st.Skipped++
			continue
		}
		local.Title = r.Title
		local.Description = r.Description
		local.Completed = r.Completed
		local.UpdatedAt = updatedAt
		if r.UserID != "" {
			local.UserID = r.UserID
		}
		st.Updated++
	}

	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.ServerID != "" && !t.NeedsSync {
			if _, ok := seen[t.ServerID]; !ok {
				st.Removed++
				continue
			}
		}
		kept = append(kept, t)
	}
	s.tasks = kept

	if !st.Changed() && linked == 0 {
		s.mu.Unlock()
		return st
	}

	s.log.Debug(ctx, "remote merged", "added", st.Added, "updated", st.Updated, "removed", st.Removed, "linked", linked)
	s.commit(ctx)
	return st
}

// notBefore keeps a remote timestamp from predating createdAt when the
// server and client clocks disagree.
func notBefore(t, createdAt time.Time) time.Time {
	if t.Before(createdAt) {
		return createdAt
	}
	return t
}

// matchRemote finds the local task for a remote row, first by ServerID and
// then by the client id the row was created with.
func (s *Store) matchRemote(r Task) int {
	for i := range s.tasks {
		if s.tasks[i].ServerID == r.ServerID {
			return i
		}
	}
	if r.ID == "" {
		return -1
	}
	return s.indexOf(r.ID)
}

// ClearAll empties the collection.
func (s *Store) ClearAll(ctx context.Context) {
	s.mu.Lock()
	s.tasks = nil
	s.commit(ctx)
}

// Tasks returns a copy of the collection in insertion order.
func (s *Store) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.indexOf(id); i >= 0 {
		return s.tasks[i], true
	}
	return Task{}, false
}

// ChangedAt is the wall time of the last mutation, or of loading when
// nothing changed since. Derived views older than this are out of date.
func (s *Store) ChangedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changedAt
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Subscribe registers fn for change notifications and returns a function
// that removes it.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.notifyMu.Lock()
			defer s.notifyMu.Unlock()
			for i, sub := range s.subs {
				if sub.id == id {
					s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
					return
				}
			}
		})
	}
}
