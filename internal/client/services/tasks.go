// Package services contains the application services behind the CLI.
// TaskService wraps the offline store, the request cache, the reconciler and
// the remote gateway into the operations a user triggers.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/backup"
	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/kv"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/dmitrijs2005/tasksync/internal/querycache"
	"github.com/dmitrijs2005/tasksync/internal/reconciler"
	"github.com/dmitrijs2005/tasksync/internal/remote"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

// TaskService defines the task operations of the CLI.
//
// Mutations are applied locally first and never wait for the network.
// Delete additionally tries to remove the remote row right away and leaves a
// tombstone for the reconciler when that is not possible.
type TaskService interface {
	Add(ctx context.Context, title, description string) (tasks.Task, error)
	Edit(ctx context.Context, id string, patch tasks.TaskPatch) (tasks.Task, error)
	Toggle(ctx context.Context, id string) (tasks.Task, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]tasks.Task, error)
	Pending(ctx context.Context) []tasks.Task
	Resolve(ctx context.Context, idOrPrefix string) (tasks.Task, error)
	PendingDeletes(ctx context.Context) int
	SyncNow(ctx context.Context) (reconciler.Result, error)
	Refresh(ctx context.Context) (reconciler.Result, error)
	Backup(ctx context.Context) (string, error)
	StorageStats(ctx context.Context) map[kv.Namespace]int
	SignOut(ctx context.Context)
	Close()
}

// SessionManager is what the services need from the session.
type SessionManager interface {
	UserID(ctx context.Context) (string, error)
	SignIn(ctx context.Context, token string) (string, error)
	SignOut(ctx context.Context)
}

// Syncer runs reconciliation passes.
type Syncer interface {
	Reconcile(ctx context.Context, opts reconciler.Options) (reconciler.Result, error)
}

// TaskDeps groups the collaborators of the task service.
type TaskDeps struct {
	Store      *tasks.Store
	Tombstones *tasks.Tombstones
	Gateway    remote.Gateway
	Syncer     Syncer
	Session    SessionManager
	Cache      *querycache.Cache
	KV         *kv.Store
	Uploader   *backup.Uploader
	// Online reports current connectivity. Nil means always online.
	Online func() bool
	Log    logging.Logger
}

type taskService struct {
	TaskDeps
	log   logging.Logger
	unsub func()
}

// NewTaskService wires the service and keeps the cached task list in step
// with the store.
func NewTaskService(d TaskDeps) TaskService {
	s := &taskService{TaskDeps: d, log: logging.OrNop(d.Log).With("module", "services")}
	if s.Online == nil {
		s.Online = func() bool { return true }
	}

	s.unsub = s.Store.Subscribe(func([]tasks.Task) {
		s.Cache.Invalidate(s.listKey(context.Background()))
	})
	return s
}

func (s *taskService) Close() {
	if s.unsub != nil {
		s.unsub()
	}
}

func (s *taskService) userID(ctx context.Context) string {
	uid, err := s.Session.UserID(ctx)
	if err != nil {
		return ""
	}
	return uid
}

func (s *taskService) listKey(ctx context.Context) querycache.Key {
	return querycache.NewKey("tasks", "list", s.userID(ctx))
}

func (s *taskService) Add(ctx context.Context, title, description string) (tasks.Task, error) {
	return s.Store.AddTask(ctx, tasks.Task{
		Title:       title,
		Description: description,
		UserID:      s.userID(ctx),
	})
}

func (s *taskService) Edit(ctx context.Context, id string, patch tasks.TaskPatch) (tasks.Task, error) {
	if patch.Empty() {
		return tasks.Task{}, fmt.Errorf("%w: nothing to change", common.ErrInvalidTask)
	}
	if !s.Store.UpdateTask(ctx, id, patch) {
		return tasks.Task{}, fmt.Errorf("task %s: %w", id, common.ErrNotFound)
	}
	t, _ := s.Store.Get(id)
	return t, nil
}

func (s *taskService) Toggle(ctx context.Context, id string) (tasks.Task, error) {
	if !s.Store.ToggleTask(ctx, id) {
		return tasks.Task{}, fmt.Errorf("task %s: %w", id, common.ErrNotFound)
	}
	t, _ := s.Store.Get(id)
	return t, nil
}

// Delete removes the task locally, then tries the remote row. When the
// remote delete cannot happen now it is recorded for the next sync.
func (s *taskService) Delete(ctx context.Context, id string) error {
	t, ok := s.Store.RemoveTask(ctx, id)
	if !ok {
		return fmt.Errorf("task %s: %w", id, common.ErrNotFound)
	}
	if t.ServerID == "" {
		return nil
	}

	owner := t.UserID
	if owner == "" {
		owner = s.userID(ctx)
	}

	if owner != "" && s.Online() {
		err := s.Gateway.Delete(ctx, owner, t.ServerID)
		if err == nil || errors.Is(err, common.ErrNotFound) {
			return nil
		}
		s.log.Warn(ctx, "remote delete failed, deferring", "task_id", id, "server_id", t.ServerID, "error", err)
	}

	s.Tombstones.Add(ctx, tasks.Tombstone{
		ID:        t.ID,
		ServerID:  t.ServerID,
		UserID:    owner,
		DeletedAt: time.Now().UTC(),
	})
	return nil
}

// List returns the tasks through the request cache. A cached list older than
// the last store change, such as one restored from a previous run, is
// dropped first.
func (s *taskService) List(ctx context.Context) ([]tasks.Task, error) {
	key := s.listKey(ctx)
	if e, ok := s.Cache.Get(key); ok && !e.DataUpdatedAt.After(s.Store.ChangedAt()) {
		s.Cache.Invalidate(key)
	}
	return querycache.Fetch(ctx, s.Cache, key, func(context.Context) ([]tasks.Task, error) {
		return s.Store.Tasks(), nil
	})
}

func (s *taskService) Pending(context.Context) []tasks.Task {
	return s.Store.GetTasksToSync()
}

func (s *taskService) PendingDeletes(ctx context.Context) int {
	return s.Tombstones.Len(ctx)
}

// Resolve finds a task by id or by a unique id prefix.
func (s *taskService) Resolve(_ context.Context, idOrPrefix string) (tasks.Task, error) {
	idOrPrefix = strings.TrimSpace(idOrPrefix)
	if idOrPrefix == "" {
		return tasks.Task{}, fmt.Errorf("%w: empty id", common.ErrNotFound)
	}
	if t, ok := s.Store.Get(idOrPrefix); ok {
		return t, nil
	}

	var found []tasks.Task
	for _, t := range s.Store.Tasks() {
		if strings.HasPrefix(t.ID, idOrPrefix) {
			found = append(found, t)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return tasks.Task{}, fmt.Errorf("task %s: %w", idOrPrefix, common.ErrNotFound)
	default:
		return tasks.Task{}, fmt.Errorf("task %s: %w: prefix matches %d tasks", idOrPrefix, common.ErrNotFound, len(found))
	}
}

// SyncNow is an explicit push. Failures are reported.
func (s *taskService) SyncNow(ctx context.Context) (reconciler.Result, error) {
	return s.Syncer.Reconcile(ctx, reconciler.Options{Force: true})
}

// Refresh pushes and then pulls the remote listing.
func (s *taskService) Refresh(ctx context.Context) (reconciler.Result, error) {
	return s.Syncer.Reconcile(ctx, reconciler.Options{Force: true, Pull: true})
}

func (s *taskService) Backup(ctx context.Context) (string, error) {
	if s.Uploader == nil {
		return "", common.ErrBackupDisabled
	}
	uid, err := s.Session.UserID(ctx)
	if err != nil {
		return "", err
	}
	return s.Uploader.Upload(ctx, uid, s.Store.Tasks())
}

// StorageStats reports the number of stored keys per namespace. It is empty
// when the service runs without local storage.
func (s *taskService) StorageStats(ctx context.Context) map[kv.Namespace]int {
	if s.KV == nil {
		return nil
	}
	return s.KV.Stats(ctx)
}

// SignOut forgets everything tied to the user: tasks, pending deletes,
// cached queries and the session itself. The stored state of all three goes
// in one transaction; preferences are kept.
func (s *taskService) SignOut(ctx context.Context) {
	s.Store.ClearAll(ctx)
	s.Cache.Clear()

	if s.KV == nil || !s.KV.ClearMany(ctx, kv.NamespaceAppState, kv.NamespaceCache, kv.NamespaceAuth) {
		s.log.Warn(ctx, "batch clear unavailable, clearing one by one")
		s.Tombstones.Clear(ctx)
		if s.KV != nil {
			s.KV.ClearAll(ctx, kv.NamespaceCache)
		}
	}
	s.Session.SignOut(ctx)
}
