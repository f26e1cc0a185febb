package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/client/localdb"
	"github.com/dmitrijs2005/tasksync/internal/client/repositories/kvstore"
	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKV(t *testing.T) *kv.Store {
	t.Helper()
	db, err := localdb.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return kv.New(kvstore.NewSQLiteRepository(db), nil, 0)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	s := NewStore(context.Background(), newKV(t), nil)
	s.now = clk.Now
	return s, clk
}

func ptr[T any](v T) *T { return &v }

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestAddTask_DefaultsAndValidation(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()

	got, err := s.AddTask(ctx, Task{Title: "  Buy milk  "})
	require.NoError(t, err)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "Buy milk", got.Title)
	assert.True(t, got.NeedsSync)
	assert.Equal(t, StateDirty, got.SyncState)
	assert.Equal(t, clk.Now(), got.CreatedAt)
	assert.Equal(t, got.CreatedAt, got.UpdatedAt)

	_, err = s.AddTask(ctx, Task{Title: "   "})
	require.ErrorIs(t, err, common.ErrInvalidTask)

	_, err = s.AddTask(ctx, Task{ID: got.ID, Title: "again"})
	require.ErrorIs(t, err, common.ErrDuplicateID)

	assert.Equal(t, 1, s.Len())
}

func TestScenario_AddSyncClears(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "Buy milk", Completed: false})
	require.NoError(t, err)

	pending := s.GetTasksToSync()
	require.Len(t, pending, 1)
	assert.Equal(t, "1", pending[0].ID)

	require.True(t, s.MarkTaskSynced(ctx, "1"))
	assert.Empty(t, s.GetTasksToSync())
}

func TestScenario_ToggleKeepsDirty(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "Buy milk"})
	require.NoError(t, err)
	require.True(t, s.ToggleTask(ctx, "1"))

	got, ok := s.Get("1")
	require.True(t, ok)
	assert.True(t, got.Completed)
	assert.True(t, got.NeedsSync)
}

func TestAbsentID_IsNoOp(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)

	calls := 0
	unsub := s.Subscribe(func([]Task) { calls++ })
	defer unsub()

	before := mustJSON(t, s.Tasks())

	assert.False(t, s.UpdateTask(ctx, "nope", TaskPatch{Title: ptr("x")}))
	assert.False(t, s.ToggleTask(ctx, "nope"))
	assert.False(t, s.MarkTaskSynced(ctx, "nope"))
	_, removed := s.RemoveTask(ctx, "nope")
	assert.False(t, removed)

	assert.Equal(t, before, mustJSON(t, s.Tasks()))
	assert.Zero(t, calls)
}

func TestDirtyFlag_IsMonotonicUntilSynced(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)

	steps := []func(){
		func() { s.UpdateTask(ctx, "1", TaskPatch{Title: ptr("b")}) },
		func() { s.ToggleTask(ctx, "1") },
		func() { s.UpdateTask(ctx, "1", TaskPatch{Description: ptr("d"), Completed: ptr(false)}) },
		func() { s.ToggleTask(ctx, "1") },
	}
	for i, step := range steps {
		clk.Advance(time.Second)
		step()
		got, _ := s.Get("1")
		assert.True(t, got.NeedsSync, "step %d", i)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt), "step %d", i)
	}

	got, _ := s.Get("1")
	assert.Equal(t, "b", got.Title)
	assert.Equal(t, "d", got.Description)
	assert.True(t, got.Completed)
}

func TestMarkTaskSynced_ClearsExactlyOne(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.AddTask(ctx, Task{ID: fmt.Sprint(i), Title: fmt.Sprintf("task %d", i)})
		require.NoError(t, err)
	}

	before, _ := s.Get("2")
	require.True(t, s.MarkTaskSynced(ctx, "2"))
	after, _ := s.Get("2")

	assert.Len(t, s.GetTasksToSync(), 4)
	assert.False(t, after.NeedsSync)
	assert.Equal(t, StateClean, after.SyncState)

	after.NeedsSync, after.SyncState = before.NeedsSync, before.SyncState
	assert.Equal(t, before, after)
}

func TestUpdateTask_BlankTitleIgnored(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "keep"})
	require.NoError(t, err)
	require.True(t, s.UpdateTask(ctx, "1", TaskPatch{Title: ptr("  ")}))

	got, _ := s.Get("1")
	assert.Equal(t, "keep", got.Title)
}

func TestUpdatedAt_StrictlyIncreasesWithFrozenClock(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	added, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)

	s.ToggleTask(ctx, "1")
	got, _ := s.Get("1")
	assert.True(t, got.UpdatedAt.After(added.UpdatedAt))
}

func TestMarkSyncedAt_RejectsEditInFlight(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()

	added, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)

	require.True(t, s.MarkSyncing(ctx, "1"))
	clk.Advance(time.Second)
	s.ToggleTask(ctx, "1")

	assert.False(t, s.MarkSyncedAt(ctx, "1", added.UpdatedAt))
	got, _ := s.Get("1")
	assert.True(t, got.NeedsSync)
	assert.Equal(t, StateDirty, got.SyncState)

	assert.True(t, s.MarkSyncedAt(ctx, "1", got.UpdatedAt))
	got, _ = s.Get("1")
	assert.False(t, got.NeedsSync)
}

func TestSyncStates(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)

	require.True(t, s.MarkSyncing(ctx, "1"))
	got, _ := s.Get("1")
	assert.Equal(t, StateSyncing, got.SyncState)
	assert.True(t, got.NeedsSync)

	require.True(t, s.MarkSyncFailed(ctx, "1", "network down"))
	got, _ = s.Get("1")
	assert.Equal(t, StateError, got.SyncState)
	assert.Equal(t, "network down", got.SyncError)
	assert.True(t, got.NeedsSync)

	require.True(t, s.AssignServerID(ctx, "1", "srv-1"))
	require.True(t, s.MarkTaskSynced(ctx, "1"))
	got, _ = s.Get("1")
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Empty(t, got.SyncError)

	// clean tasks cannot be flagged as syncing or failed
	assert.False(t, s.MarkSyncing(ctx, "1"))
	assert.False(t, s.MarkSyncFailed(ctx, "1", "x"))
}

func TestRemoveTask_ReturnsRemoved(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)
	_, err = s.AddTask(ctx, Task{ID: "2", Title: "b"})
	require.NoError(t, err)

	removed, ok := s.RemoveTask(ctx, "1")
	require.True(t, ok)
	assert.Equal(t, "a", removed.Title)

	all := s.Tasks()
	require.Len(t, all, 1)
	assert.Equal(t, "2", all[0].ID)
}

func TestPersistence_ReloadFromKV(t *testing.T) {
	ctx := context.Background()
	store := newKV(t)

	s := NewStore(ctx, store, nil)
	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a", UserID: "u1"})
	require.NoError(t, err)
	_, err = s.AddTask(ctx, Task{ID: "2", Title: "b"})
	require.NoError(t, err)
	s.MarkSyncing(ctx, "1")
	s.MarkTaskSynced(ctx, "2")

	reloaded := NewStore(ctx, store, nil)
	all := reloaded.Tasks()
	require.Len(t, all, 2)
	assert.Equal(t, "1", all[0].ID)
	assert.Equal(t, "u1", all[0].UserID)
	// an interrupted push is dirty again after restart
	assert.Equal(t, StateDirty, all[0].SyncState)
	assert.True(t, all[0].NeedsSync)
	assert.Equal(t, StateClean, all[1].SyncState)
}

func TestLoad_CorruptSnapshotStartsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newKV(t)
	store.Set(ctx, kv.NamespaceAppState, SnapshotKey, map[string]int{"not": 1})

	s := NewStore(ctx, store, nil)
	assert.Zero(t, s.Len())
}

func TestNormalize_DropsBrokenRows(t *testing.T) {
	in := []Task{
		{ID: "", Title: "no id"},
		{ID: "a", Title: "legacy dirty", NeedsSync: true},
		{ID: "a", Title: "duplicate"},
		{ID: "b", Title: "legacy clean"},
	}

	out := normalize(in)
	require.Len(t, out, 2)
	assert.Equal(t, StateDirty, out[0].SyncState)
	assert.Equal(t, StateClean, out[1].SyncState)
	assert.False(t, out[1].NeedsSync)
}

func TestSubscribe_NotifiesOncePerMutation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var snaps [][]Task
	unsub := s.Subscribe(func(tasks []Task) { snaps = append(snaps, tasks) })

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)
	s.ToggleTask(ctx, "1")
	s.MarkTaskSynced(ctx, "1")

	require.Len(t, snaps, 3)
	assert.False(t, snaps[0][0].Completed)
	assert.True(t, snaps[1][0].Completed)
	assert.False(t, snaps[2][0].NeedsSync)

	unsub()
	unsub()
	s.ToggleTask(ctx, "1")
	assert.Len(t, snaps, 3)
}

func TestSubscribe_SnapshotIsPersistedBeforeNotify(t *testing.T) {
	ctx := context.Background()
	store := newKV(t)
	s := NewStore(ctx, store, nil)

	var persisted []Task
	s.Subscribe(func([]Task) {
		persisted, _ = kv.Get[[]Task](ctx, store, kv.NamespaceAppState, SnapshotKey)
	})

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.Equal(t, "1", persisted[0].ID)
}

func TestSubscribe_ConcurrentMutationsNotifyInOrder(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var lens []int
	s.Subscribe(func(tasks []Task) {
		mu.Lock()
		lens = append(lens, len(tasks))
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.AddTask(ctx, Task{ID: fmt.Sprint(i), Title: "t"})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Len(t, lens, 20)
	for i, n := range lens {
		assert.Equal(t, i+1, n)
	}
}

func TestSubscribe_ListenerMayReadAndUnsubscribe(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []int
	s.Subscribe(func([]Task) {
		n := len(s.Tasks())
		_, _ = s.Get("0")
		mu.Lock()
		seen = append(seen, n)
		mu.Unlock()
	})

	var unsub func()
	unsub = s.Subscribe(func([]Task) { unsub() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AddTask(ctx, Task{ID: fmt.Sprint(i), Title: "t"})
				assert.NoError(t, err)
				s.ToggleTask(ctx, fmt.Sprint(i))
			}(i)
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mutations did not finish while listeners read the store")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 40)
	assert.Equal(t, 20, s.Len())
}

func TestChangedAt_AdvancesOnMutation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	loaded := s.ChangedAt()
	require.False(t, loaded.IsZero())

	time.Sleep(time.Millisecond)
	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)
	assert.True(t, s.ChangedAt().After(loaded))

	before := s.ChangedAt()
	s.ToggleTask(ctx, "missing")
	assert.Equal(t, before, s.ChangedAt())
}

func TestMergeRemote(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()

	// clean local copy of srv-1, dirty local copy of srv-2, clean srv-3 gone remotely
	for _, tc := range []struct{ id, sid string }{{"l1", "srv-1"}, {"l2", "srv-2"}, {"l3", "srv-3"}} {
		_, err := s.AddTask(ctx, Task{ID: tc.id, Title: tc.id})
		require.NoError(t, err)
		s.AssignServerID(ctx, tc.id, tc.sid)
		s.MarkTaskSynced(ctx, tc.id)
	}
	s.ToggleTask(ctx, "l2")

	later := clk.Now().Add(time.Hour)
	st := s.MergeRemote(ctx, []Task{
		{ServerID: "srv-1", Title: "renamed", UpdatedAt: later},
		{ServerID: "srv-2", Title: "remote wins?", UpdatedAt: later},
		{ServerID: "srv-4", Title: "new", CreatedAt: later, UpdatedAt: later},
	})

	assert.Equal(t, MergeStats{Added: 1, Updated: 1, Removed: 1, Skipped: 1}, st)

	l1, _ := s.Get("l1")
	assert.Equal(t, "renamed", l1.Title)
	assert.False(t, l1.NeedsSync)

	l2, _ := s.Get("l2")
	assert.Equal(t, "l2", l2.Title)
	assert.True(t, l2.NeedsSync)

	_, ok := s.Get("l3")
	assert.False(t, ok)

	added, ok := s.Get("srv-4")
	require.True(t, ok)
	assert.Equal(t, StateClean, added.SyncState)

	// a second identical merge changes nothing
	calls := 0
	s.Subscribe(func([]Task) { calls++ })
	st = s.MergeRemote(ctx, []Task{
		{ServerID: "srv-1", Title: "renamed", UpdatedAt: later},
		{ServerID: "srv-2", Title: "remote wins?", UpdatedAt: later},
		{ServerID: "srv-4", Title: "new", CreatedAt: later, UpdatedAt: later},
	})
	assert.False(t, st.Changed())
	assert.Zero(t, calls)
}

func TestMergeRemote_LinksRowByClientID(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()

	// the create reached the server but the response never came back
	_, err := s.AddTask(ctx, Task{ID: "a", Title: "local"})
	require.NoError(t, err)

	calls := 0
	s.Subscribe(func([]Task) { calls++ })

	row := Task{ID: "a", ServerID: "srv-1", Title: "local", CreatedAt: clk.Now(), UpdatedAt: clk.Now()}
	st := s.MergeRemote(ctx, []Task{row})
	assert.Equal(t, MergeStats{Skipped: 1}, st)
	assert.Equal(t, 1, calls)

	require.Equal(t, 1, s.Len())
	got, _ := s.Get("a")
	assert.Equal(t, "srv-1", got.ServerID)
	assert.True(t, got.NeedsSync)

	// once clean, the same row is recognized by ServerID
	s.MarkTaskSynced(ctx, "a")
	st = s.MergeRemote(ctx, []Task{row})
	assert.False(t, st.Changed())
	assert.Equal(t, 1, s.Len())
}

func TestMergeRemote_NewRowKeepsClientID(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()

	st := s.MergeRemote(ctx, []Task{{ID: "from-phone", ServerID: "srv-7", Title: "x", UpdatedAt: clk.Now()}})
	assert.Equal(t, 1, st.Added)

	got, ok := s.Get("from-phone")
	require.True(t, ok)
	assert.Equal(t, "srv-7", got.ServerID)
}

func TestMergeRemote_UpdatedAtNeverPrecedesCreatedAt(t *testing.T) {
	s, clk := newStore(t)
	ctx := context.Background()

	// server clock ahead of the client that stamped UpdatedAt
	serverNow := clk.Now().Add(time.Minute)
	st := s.MergeRemote(ctx, []Task{{ServerID: "srv-1", Title: "skewed", CreatedAt: serverNow, UpdatedAt: clk.Now()}})
	require.Equal(t, 1, st.Added)

	added, ok := s.Get("srv-1")
	require.True(t, ok)
	assert.False(t, added.UpdatedAt.Before(added.CreatedAt))

	// a clean local task takes a skewed remote edit without going backwards
	_, err := s.AddTask(ctx, Task{ID: "l1", Title: "mine"})
	require.NoError(t, err)
	s.AssignServerID(ctx, "l1", "srv-2")
	s.MarkTaskSynced(ctx, "l1")
	local, _ := s.Get("l1")

	rows := []Task{
		{ServerID: "srv-1", Title: "skewed", CreatedAt: serverNow, UpdatedAt: clk.Now()},
		{ServerID: "srv-2", Title: "renamed", CreatedAt: serverNow, UpdatedAt: local.CreatedAt.Add(-time.Second)},
	}
	s.MergeRemote(ctx, rows)
	got, _ := s.Get("l1")
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	// repeating the merge is a no-op
	assert.False(t, s.MergeRemote(ctx, rows).Changed())
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	store := newKV(t)
	s := NewStore(ctx, store, nil)

	_, err := s.AddTask(ctx, Task{ID: "1", Title: "a"})
	require.NoError(t, err)
	s.ClearAll(ctx)

	assert.Zero(t, s.Len())
	assert.Zero(t, NewStore(ctx, store, nil).Len())
}

func TestInMemoryStore_WithoutKV(t *testing.T) {
	ctx := context.Background()
	s := NewStore(ctx, nil, nil)

	_, err := s.AddTask(ctx, Task{Title: "memory only"})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}
