package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/client/services"
	"github.com/dmitrijs2005/tasksync/internal/connectivity"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/dmitrijs2005/tasksync/internal/reconciler"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// SyncStatus is the part of the background scheduler the shell talks to.
type SyncStatus interface {
	SetOnline(online bool)
	Trigger()
	Last() (time.Time, reconciler.Result, error)
	Passes() int
}

// OnlineSetter receives connectivity changes. *querycache.Persister
// satisfies it.
type OnlineSetter interface {
	SetOnline(online bool)
}

// Watcher publishes connectivity changes. *connectivity.Monitor satisfies it.
type Watcher interface {
	Subscribe(fn connectivity.Listener) (unsubscribe func())
	Status() connectivity.Status
}

// Deps groups the collaborators of the shell.
type Deps struct {
	Tasks     services.TaskService
	Auth      services.AuthService
	Scheduler SyncStatus
	Persister OnlineSetter
	Watcher   Watcher
	Log       logging.Logger
	In        io.Reader
	Out       io.Writer
}

type App struct {
	tasks     services.TaskService
	auth      services.AuthService
	scheduler SyncStatus
	persister OnlineSetter
	watcher   Watcher
	log       logging.Logger
	reader    *bufio.Reader
	out       io.Writer

	mu     sync.Mutex
	mode   Mode
	userID string
}

// NewApp builds the shell. In and Out default to the process stdin and
// stdout.
func NewApp(d Deps) *App {
	in := d.In
	if in == nil {
		in = os.Stdin
	}
	out := d.Out
	if out == nil {
		out = os.Stdout
	}
	return &App{
		tasks:     d.Tasks,
		auth:      d.Auth,
		scheduler: d.Scheduler,
		persister: d.Persister,
		watcher:   d.Watcher,
		log:       logging.OrNop(d.Log).With("module", "cli"),
		reader:    bufio.NewReader(in),
		out:       out,
		mode:      ModeOffline,
	}
}

func (a *App) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *App) setMode(ctx context.Context, mode Mode) {
	a.mu.Lock()
	changed := a.mode != mode
	a.mode = mode
	a.mu.Unlock()

	if changed {
		a.log.Info(ctx, "switched mode", "mode", string(mode))
	}
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID != ""
}

func (a *App) setUser(uid string) {
	a.mu.Lock()
	a.userID = uid
	a.mu.Unlock()
}

func (a *App) getStatus() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := string(a.mode)
	if a.userID != "" {
		s = short(a.userID) + " " + s
	}
	return "(" + s + ")"
}

// applyStatus moves the shell and its background workers to the given
// connectivity state.
func (a *App) applyStatus(ctx context.Context, st connectivity.Status) {
	online := st.Online()
	if a.scheduler != nil {
		a.scheduler.SetOnline(online)
	}
	if a.persister != nil {
		a.persister.SetOnline(online)
	}
	if online {
		a.setMode(ctx, ModeOnline)
	} else {
		a.setMode(ctx, ModeOffline)
	}
}

// StartOnlineStatusWatcher follows the connectivity watcher until the
// returned function is called.
func (a *App) StartOnlineStatusWatcher(ctx context.Context) (stop func()) {
	if a.watcher == nil {
		return func() {}
	}
	a.applyStatus(ctx, a.watcher.Status())
	return a.watcher.Subscribe(func(st connectivity.Status) {
		a.applyStatus(ctx, st)
	})
}

// Run restores the session, follows connectivity and serves commands until
// the input ends or the user exits.
func (a *App) Run(ctx context.Context) {
	printlnFn("Welcome to TaskSync (type 'help' for commands)")

	if uid, err := a.auth.CurrentUser(ctx); err == nil {
		a.setUser(uid)
	} else {
		printlnFn("Not signed in. Tasks are kept locally until you 'login'.")
	}

	stop := a.StartOnlineStatusWatcher(ctx)
	defer stop()

	runREPL(ctx, a, a.getStatus, a.reader)
}
