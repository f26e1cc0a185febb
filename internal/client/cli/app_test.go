package cli

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/client/localdb"
	"github.com/dmitrijs2005/tasksync/internal/client/repositories/kvstore"
	"github.com/dmitrijs2005/tasksync/internal/client/services"
	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/connectivity"
	"github.com/dmitrijs2005/tasksync/internal/kv"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/dmitrijs2005/tasksync/internal/querycache"
	"github.com/dmitrijs2005/tasksync/internal/reconciler"
	"github.com/dmitrijs2005/tasksync/internal/remote/remotetest"
	"github.com/dmitrijs2005/tasksync/internal/session"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	mu       sync.Mutex
	online   []bool
	triggers int
	passes   int
	last     time.Time
	res      reconciler.Result
}

func (f *fakeScheduler) SetOnline(online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online = append(f.online, online)
}

func (f *fakeScheduler) Trigger() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers++
}

func (f *fakeScheduler) Last() (time.Time, reconciler.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.res, nil
}

func (f *fakeScheduler) Passes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.passes
}

type fakePersister struct {
	online []bool
}

func (f *fakePersister) SetOnline(online bool) { f.online = append(f.online, online) }

type appFixture struct {
	app    *App
	out    *bytes.Buffer
	store  *tasks.Store
	gw     *remotetest.Gateway
	sched  *fakeScheduler
	pers   *fakePersister
	prober *connectivity.StaticProber
	mon    *connectivity.Monitor
}

func newAppFixture(t *testing.T, input string) *appFixture {
	t.Helper()
	ctx := context.Background()

	db, err := localdb.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store := kv.New(kvstore.NewSQLiteRepository(db), nil, 0)
	f := &appFixture{
		out:    &bytes.Buffer{},
		store:  tasks.NewStore(ctx, store, nil),
		gw:     remotetest.New(),
		sched:  &fakeScheduler{},
		pers:   &fakePersister{},
		prober: connectivity.NewStaticProber(connectivity.Status{Connected: true, Type: "static", Reachable: true}),
	}
	f.mon = connectivity.NewMonitor(f.prober, 0, nil)

	tombs := tasks.NewTombstones(store)
	sess := session.New(store, "", nil)
	rec := reconciler.New(f.store, tombs, f.gw, sess, reconciler.Config{}, nil)

	svc := services.NewTaskService(services.TaskDeps{
		Store:      f.store,
		Tombstones: tombs,
		Gateway:    f.gw,
		Syncer:     rec,
		Session:    sess,
		Cache:      querycache.New(0),
		KV:         store,
		Online:     f.mon.Online,
	})
	t.Cleanup(svc.Close)

	f.app = NewApp(Deps{
		Tasks:     svc,
		Auth:      services.NewAuthService(sess, f.mon),
		Scheduler: f.sched,
		Persister: f.pers,
		Watcher:   f.mon,
		In:        strings.NewReader(input),
		Out:       f.out,
	})
	return f
}

func token(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub}).SignedString([]byte("k"))
	require.NoError(t, err)
	return s
}

func TestSetMode_ChangesAndLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	app := NewApp(Deps{Log: logging.NewJSONLogger(&buf, "debug"), Out: &bytes.Buffer{}})
	ctx := context.Background()

	require.Equal(t, ModeOffline, app.Mode())

	app.setMode(ctx, ModeOnline)
	assert.Equal(t, ModeOnline, app.Mode())
	assert.Contains(t, buf.String(), `"mode":"online"`)

	buf.Reset()
	app.setMode(ctx, ModeOnline)
	assert.Empty(t, buf.String(), "no log when mode does not change")

	app.setMode(ctx, ModeOffline)
	assert.Contains(t, buf.String(), `"mode":"offline"`)
}

func TestIsLoggedIn(t *testing.T) {
	app := NewApp(Deps{Out: &bytes.Buffer{}})
	assert.False(t, app.isLoggedIn())
	assert.Equal(t, "(offline)", app.getStatus())

	app.setUser("0123456789abcdef")
	assert.True(t, app.isLoggedIn())
	assert.Equal(t, "(01234567 offline)", app.getStatus())
}

func TestOnlineStatusWatcher_FeedsSchedulerAndPersister(t *testing.T) {
	f := newAppFixture(t, "")
	ctx := context.Background()

	stop := f.app.StartOnlineStatusWatcher(ctx)

	f.mon.Check(ctx)
	assert.Equal(t, ModeOnline, f.app.Mode())

	f.prober.Set(connectivity.Status{Connected: false, Type: "static"})
	f.mon.Check(ctx)
	assert.Equal(t, ModeOffline, f.app.Mode())

	stop()
	f.prober.Set(connectivity.Status{Connected: true, Type: "static", Reachable: true})
	f.mon.Check(ctx)
	assert.Equal(t, ModeOffline, f.app.Mode(), "no updates after stop")

	assert.Equal(t, []bool{false, true, false}, f.sched.online)
	assert.Equal(t, []bool{false, true, false}, f.pers.online)
}

func TestLoginAddSync(t *testing.T) {
	f := newAppFixture(t, "")
	ctx := context.Background()

	require.NoError(t, f.app.Login(ctx, []string{token(t, "user-1")}))
	assert.True(t, f.app.isLoggedIn())
	assert.Contains(t, f.out.String(), "Signed in as user-1")

	require.NoError(t, f.app.Add(ctx, []string{"buy", "milk"}))
	require.Equal(t, 1, f.store.Len())
	task := f.store.Tasks()[0]
	assert.Equal(t, "buy milk", task.Title)
	assert.True(t, task.NeedsSync)
	assert.Equal(t, 2, f.sched.triggers)

	f.out.Reset()
	require.NoError(t, f.app.Pending(ctx, nil))
	assert.Contains(t, f.out.String(), "(not synced)")

	f.out.Reset()
	require.NoError(t, f.app.Sync(ctx, nil))
	assert.Contains(t, f.out.String(), "pushed 1/1")
	assert.Equal(t, 1, f.gw.Len())

	f.out.Reset()
	require.NoError(t, f.app.Pending(ctx, nil))
	assert.Equal(t, "Everything is synced\n", f.out.String())
}

func TestLogin_PromptsForTokenWithoutEcho(t *testing.T) {
	f := newAppFixture(t, "")
	tok := token(t, "user-2")

	orig := getSecret
	t.Cleanup(func() { getSecret = orig })
	getSecret = func(string, io.Writer) (string, error) { return tok, nil }

	require.NoError(t, f.app.Login(context.Background(), nil))
	assert.True(t, f.app.isLoggedIn())
}

func TestLogin_InvalidToken(t *testing.T) {
	f := newAppFixture(t, "")

	err := f.app.Login(context.Background(), []string{"not-a-jwt"})
	require.ErrorIs(t, err, common.ErrInvalidToken)
	assert.False(t, f.app.isLoggedIn())
}

func TestSync_WithoutSession(t *testing.T) {
	f := newAppFixture(t, "")

	err := f.app.Sync(context.Background(), nil)
	require.ErrorIs(t, err, common.ErrNoSession)
}

func TestAdd_Interactive(t *testing.T) {
	f := newAppFixture(t, "Title here\nline one\nline two\n\n")

	require.NoError(t, f.app.Add(context.Background(), nil))

	list := f.store.Tasks()
	require.Len(t, list, 1)
	assert.Equal(t, "Title here", list[0].Title)
	assert.Equal(t, "line one\nline two", list[0].Description)
}

func TestAdd_EmptyTitleRejected(t *testing.T) {
	f := newAppFixture(t, "\n\n")

	err := f.app.Add(context.Background(), nil)
	require.ErrorIs(t, err, common.ErrInvalidTask)
	assert.Zero(t, f.store.Len())
}

func TestToggleEditDelete_ByPrefix(t *testing.T) {
	f := newAppFixture(t, "Renamed\n\n")
	ctx := context.Background()

	require.NoError(t, f.app.Add(ctx, []string{"first"}))
	id := f.store.Tasks()[0].ID

	require.NoError(t, f.app.Toggle(ctx, []string{short(id)}))
	got, _ := f.store.Get(id)
	assert.True(t, got.Completed)

	require.NoError(t, f.app.Edit(ctx, []string{short(id)}))
	got, _ = f.store.Get(id)
	assert.Equal(t, "Renamed", got.Title)

	f.out.Reset()
	require.NoError(t, f.app.List(ctx, nil))
	assert.Contains(t, f.out.String(), "[x] "+short(id)+"  Renamed")

	require.NoError(t, f.app.Delete(ctx, []string{short(id)}))
	assert.Zero(t, f.store.Len())

	err := f.app.Toggle(ctx, []string{"missing"})
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestEdit_NothingToChange(t *testing.T) {
	f := newAppFixture(t, "\n\n")
	ctx := context.Background()

	require.NoError(t, f.app.Add(ctx, []string{"same"}))
	id := f.store.Tasks()[0].ID

	f.out.Reset()
	require.NoError(t, f.app.Edit(ctx, []string{id}))
	assert.Contains(t, f.out.String(), "Nothing to change")
}

func TestLogout_AsksWhenUnsynced(t *testing.T) {
	f := newAppFixture(t, "n\ny\n")
	ctx := context.Background()

	require.NoError(t, f.app.Login(ctx, []string{token(t, "user-1")}))
	require.NoError(t, f.app.Add(ctx, []string{"draft"}))

	require.NoError(t, f.app.Logout(ctx, nil))
	assert.Contains(t, f.out.String(), "Cancelled")
	assert.True(t, f.app.isLoggedIn())
	assert.Equal(t, 1, f.store.Len())

	require.NoError(t, f.app.Logout(ctx, nil))
	assert.False(t, f.app.isLoggedIn())
	assert.Zero(t, f.store.Len())
}

func TestStatus(t *testing.T) {
	f := newAppFixture(t, "")
	ctx := context.Background()
	f.sched.last = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	f.sched.res = reconciler.Result{Attempted: 2, Synced: 2}
	f.sched.passes = 3

	require.NoError(t, f.app.Add(ctx, []string{"one"}))
	f.out.Reset()

	require.NoError(t, f.app.Status(ctx, nil))
	out := f.out.String()
	assert.Contains(t, out, "User:            not signed in")
	assert.Contains(t, out, "Tasks:           1")
	assert.Contains(t, out, "Pending changes: 1")
	assert.Contains(t, out, "pushed 2/2")
	assert.Contains(t, out, "Sync passes:     3")
	assert.Contains(t, out, "Stored keys:     app_state=1 auth=0 cache=0 preferences=0")
}

func TestBackup_Disabled(t *testing.T) {
	f := newAppFixture(t, "")

	err := f.app.Backup(context.Background(), nil)
	require.ErrorIs(t, err, common.ErrBackupDisabled)
}

func TestRun_ServesUntilExit(t *testing.T) {
	captureOutput(t)
	f := newAppFixture(t, "add from run\nexit\n")

	f.app.Run(context.Background())

	require.Equal(t, 1, f.store.Len())
	assert.Equal(t, "from run", f.store.Tasks()[0].Title)
}
