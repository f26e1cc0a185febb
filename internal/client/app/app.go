// Package app wires the task client together from its configuration and runs
// it until the shell exits or the process is interrupted.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/backup"
	"github.com/dmitrijs2005/tasksync/internal/client/cli"
	"github.com/dmitrijs2005/tasksync/internal/client/config"
	"github.com/dmitrijs2005/tasksync/internal/client/localdb"
	"github.com/dmitrijs2005/tasksync/internal/client/repositories/kvstore"
	"github.com/dmitrijs2005/tasksync/internal/client/services"
	"github.com/dmitrijs2005/tasksync/internal/connectivity"
	"github.com/dmitrijs2005/tasksync/internal/kv"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/dmitrijs2005/tasksync/internal/querycache"
	"github.com/dmitrijs2005/tasksync/internal/reconciler"
	"github.com/dmitrijs2005/tasksync/internal/remote"
	"github.com/dmitrijs2005/tasksync/internal/session"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config    *config.Config
	logger    logging.Logger
	monitor   *connectivity.Monitor
	scheduler *reconciler.Scheduler
	persister *querycache.Persister
	tasks     services.TaskService
	shell     *cli.App
	closers   []io.Closer
}

// Options overrides process-level collaborators, mostly for tests.
type Options struct {
	In     io.Reader
	Out    io.Writer
	LogOut io.Writer
}

// newProber picks the liveness check: the gRPC health endpoint when one is
// configured, otherwise a ping of the remote database, otherwise a prober
// that always reports offline.
func newProber(c *config.Config, remoteDB *sql.DB) (connectivity.Prober, io.Closer, error) {
	switch {
	case c.HealthEndpoint != "":
		p, err := connectivity.NewGRPCHealthProber(c.HealthEndpoint, c.HealthService)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case remoteDB != nil:
		return connectivity.NewSQLPingProber(remoteDB), nil, nil
	default:
		return connectivity.NewStaticProber(connectivity.Status{Type: "none"}), nil, nil
	}
}

func NewApp(ctx context.Context, c *config.Config, opts Options) (*App, error) {
	logOut := opts.LogOut
	if logOut == nil {
		logOut = os.Stderr
	}
	logger := logging.NewJSONLogger(logOut, c.LogLevel)

	app := &App{config: c, logger: logger}

	db, err := localdb.Open(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("local db init error: %w", err)
	}
	app.closers = append(app.closers, db)

	kvStore := kv.New(kvstore.NewSQLiteRepository(db), logger, c.KVTimeout)
	store := tasks.NewStore(ctx, kvStore, logger)
	tombs := tasks.NewTombstones(kvStore)
	sess := session.New(kvStore, c.JWTSecret, logger)

	gw := remote.Offline
	var remoteDB *sql.DB
	if c.RemoteDSN != "" {
		remoteDB, err = remote.Open(c.RemoteDSN)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, remoteDB)
		gw = remote.NewPostgresGateway(remoteDB, logger, c.RemoteTimeout)
	}

	prober, closer, err := newProber(c, remoteDB)
	if err != nil {
		app.Close()
		return nil, err
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	app.monitor = connectivity.NewMonitor(prober, c.OnlineCheckInterval, logger)

	rec := reconciler.New(store, tombs, gw, sess, reconciler.Config{
		BackoffBase: c.BackoffBase,
		BackoffMax:  c.BackoffMax,
	}, logger)
	app.scheduler = reconciler.NewScheduler(rec, c.SyncInterval, logger)

	cache := querycache.New(c.CacheStaleTime)
	app.persister = querycache.NewPersister(cache, kvStore, c.CachePersistInterval, logger)

	var uploader *backup.Uploader
	bc := backup.Config{
		Bucket:    c.S3Bucket,
		Region:    c.S3Region,
		Endpoint:  c.S3Endpoint,
		Prefix:    c.S3Prefix,
		AccessKey: c.S3AccessKey,
		SecretKey: c.S3SecretKey,
	}
	if bc.Enabled() {
		uploader, err = backup.NewUploader(ctx, bc, logger)
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	app.tasks = services.NewTaskService(services.TaskDeps{
		Store:      store,
		Tombstones: tombs,
		Gateway:    gw,
		Syncer:     rec,
		Session:    sess,
		Cache:      cache,
		KV:         kvStore,
		Uploader:   uploader,
		Online:     app.monitor.Online,
		Log:        logger,
	})

	app.shell = cli.NewApp(cli.Deps{
		Tasks:     app.tasks,
		Auth:      services.NewAuthService(sess, app.monitor),
		Scheduler: app.scheduler,
		Persister: app.persister,
		Watcher:   app.monitor,
		Log:       logger,
		In:        opts.In,
		Out:       opts.Out,
	})

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the background workers and serves the shell. It returns when
// the shell exits or ctx is cancelled; the cache is persisted and the
// workers are stopped before it does.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.initSignalHandler(cancelFunc)
	app.watchSuspend(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.persister.RestoreAsync(ctx)

	app.monitor.Start(ctx)
	app.scheduler.Start(ctx)
	app.persister.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.shell.Run(ctx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	app.shutdown()
}

// suspend runs before the process is stopped from the terminal: the cache is
// written out as if the app went to the background.
func (app *App) suspend(ctx context.Context) {
	app.logger.Info(ctx, "Suspending")
	app.persister.SetForeground(ctx, false)
}

// resume runs when the process is continued. Periodic cache writes start
// again and a sync pass is requested.
func (app *App) resume(ctx context.Context) {
	app.persister.SetForeground(ctx, true)
	app.scheduler.Foreground()
	app.logger.Info(ctx, "Resumed")
}

func (app *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	app.monitor.Stop()
	app.scheduler.Stop()
	app.persister.Close(ctx)
	app.tasks.Close()
	app.Close()

	app.logger.Info(ctx, "Stopped")
}

// Close releases databases and connections.
func (app *App) Close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i].Close(); err != nil {
			app.logger.Warn(context.Background(), "close failed", "error", err)
		}
	}
	app.closers = nil
}
