package tasks

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/kv"
)

// TombstonesKey is the app_state key of the pending remote deletes.
const TombstonesKey = "pending-deletes"

// Tombstone is a remote delete that has not reached the backend yet.
type Tombstone struct {
	ID        string    `json:"id"`
	ServerID  string    `json:"serverId"`
	UserID    string    `json:"userId,omitempty"`
	DeletedAt time.Time `json:"deletedAt"`
}

// Tombstones is the persisted list of pending remote deletes, keyed by
// ServerID.
type Tombstones struct {
	mu sync.Mutex
	kv *kv.Store
}

func NewTombstones(store *kv.Store) *Tombstones {
	return &Tombstones{kv: store}
}

func (t *Tombstones) load(ctx context.Context) []Tombstone {
	list, _ := kv.Get[[]Tombstone](ctx, t.kv, kv.NamespaceAppState, TombstonesKey)
	return list
}

func (t *Tombstones) save(ctx context.Context, list []Tombstone) {
	if len(list) == 0 {
		t.kv.Remove(ctx, kv.NamespaceAppState, TombstonesKey)
		return
	}
	t.kv.Set(ctx, kv.NamespaceAppState, TombstonesKey, list)
}

// Add records a pending delete. Tombstones without a ServerID are ignored
// since there is nothing to delete remotely.
func (t *Tombstones) Add(ctx context.Context, ts Tombstone) {
	if ts.ServerID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.load(ctx)
	for _, existing := range list {
		if existing.ServerID == ts.ServerID {
			return
		}
	}
	t.save(ctx, append(list, ts))
}

func (t *Tombstones) List(ctx context.Context) []Tombstone {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load(ctx)
}

func (t *Tombstones) Remove(ctx context.Context, serverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.load(ctx)
	kept := list[:0]
	for _, ts := range list {
		if ts.ServerID != serverID {
			kept = append(kept, ts)
		}
	}
	t.save(ctx, kept)
}

func (t *Tombstones) Len(ctx context.Context) int {
	return len(t.List(ctx))
}

func (t *Tombstones) Clear(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kv.Remove(ctx, kv.NamespaceAppState, TombstonesKey)
}
