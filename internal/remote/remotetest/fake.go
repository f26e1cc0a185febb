// Package remotetest provides an in-memory remote.Gateway for tests.
package remotetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/remote"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

// Call records one gateway invocation.
type Call struct {
	Op       string
	UserID   string
	ServerID string
	ClientID string
}

// Gateway keeps rows in memory. FailFor makes calls touching a given client
// or server id fail with the configured error.
type Gateway struct {
	mu      sync.Mutex
	rows    map[string]tasks.Task
	seq     int
	failFor map[string]error
	failAll error
	calls   []Call

	// Block, when set, is waited on by every call before it proceeds.
	Block chan struct{}
}

var _ remote.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		rows:    make(map[string]tasks.Task),
		failFor: make(map[string]error),
	}
}

func (g *Gateway) FailFor(id string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failFor, id)
		return
	}
	g.failFor[id] = err
}

func (g *Gateway) FailAll(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAll = err
}

func (g *Gateway) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Call, len(g.calls))
	copy(out, g.calls)
	return out
}

// Put stores a row as if another device had written it.
func (g *Gateway) Put(t tasks.Task) tasks.Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.ServerID == "" {
		g.seq++
		t.ServerID = fmt.Sprintf("srv-%d", g.seq)
	}
	g.rows[t.ServerID] = t
	return t
}

func (g *Gateway) Row(serverID string) (tasks.Task, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.rows[serverID]
	return t, ok
}

func (g *Gateway) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rows)
}

func (g *Gateway) enter(ctx context.Context, c Call) error {
	if g.Block != nil {
		select {
		case <-g.Block:
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", common.ErrUnavailable, ctx.Err())
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, c)

	if g.failAll != nil {
		return g.failAll
	}
	if err, ok := g.failFor[c.ClientID]; ok && c.ClientID != "" {
		return err
	}
	if err, ok := g.failFor[c.ServerID]; ok && c.ServerID != "" {
		return err
	}
	return nil
}

func (g *Gateway) List(ctx context.Context, userID string) ([]tasks.Task, error) {
	if err := g.enter(ctx, Call{Op: "list", UserID: userID}); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	var out []tasks.Task
	for _, t := range g.rows {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (g *Gateway) Create(ctx context.Context, userID string, in remote.TaskInput) (tasks.Task, error) {
	if err := g.enter(ctx, Call{Op: "create", UserID: userID, ClientID: in.ClientID}); err != nil {
		return tasks.Task{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for sid, t := range g.rows {
		if t.UserID == userID && t.ID == in.ClientID {
			t = apply(t, in)
			g.rows[sid] = t
			return t, nil
		}
	}

	g.seq++
	now := time.Now().UTC()
	t := apply(tasks.Task{
		ID:        in.ClientID,
		ServerID:  fmt.Sprintf("srv-%d", g.seq),
		UserID:    userID,
		CreatedAt: now,
		SyncState: tasks.StateClean,
	}, in)
	g.rows[t.ServerID] = t
	return t, nil
}

func (g *Gateway) Update(ctx context.Context, userID, serverID string, in remote.TaskInput) (tasks.Task, error) {
	if err := g.enter(ctx, Call{Op: "update", UserID: userID, ServerID: serverID, ClientID: in.ClientID}); err != nil {
		return tasks.Task{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.rows[serverID]
	if !ok || t.UserID != userID {
		return tasks.Task{}, fmt.Errorf("update task %s: %w", serverID, common.ErrNotFound)
	}
	t = apply(t, in)
	g.rows[serverID] = t
	return t, nil
}

func (g *Gateway) Delete(ctx context.Context, userID, serverID string) error {
	if err := g.enter(ctx, Call{Op: "delete", UserID: userID, ServerID: serverID}); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.rows[serverID]
	if !ok || t.UserID != userID {
		return fmt.Errorf("delete task %s: %w", serverID, common.ErrNotFound)
	}
	delete(g.rows, serverID)
	return nil
}

func apply(t tasks.Task, in remote.TaskInput) tasks.Task {
	t.Title = in.Title
	t.Description = in.Description
	t.Completed = in.Completed
	t.UpdatedAt = in.UpdatedAt
	return t
}
