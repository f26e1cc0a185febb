package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/kv"
	"github.com/dmitrijs2005/tasksync/internal/logging"
)

// SnapshotKey is the cache-namespace key holding the persisted entries.
const SnapshotKey = "query-cache"

const DefaultPersistInterval = 30 * time.Second

type snapshot struct {
	SavedAt time.Time `json:"savedAt"`
	Entries []Entry   `json:"entries"`
}

// Persister copies the cache into the key-value store and back. The whole
// entry set is written as one value, so a snapshot is never half-written.
type Persister struct {
	cache    *Cache
	kv       *kv.Store
	log      logging.Logger
	interval time.Duration

	mu          sync.Mutex
	online      bool
	foreground  bool
	lastVersion uint64
	persisted   bool
	running     bool
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewPersister(cache *Cache, store *kv.Store, interval time.Duration, log logging.Logger) *Persister {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	return &Persister{
		cache:      cache,
		kv:         store,
		log:        logging.OrNop(log).With("module", "querycache"),
		interval:   interval,
		online:     true,
		foreground: true,
	}
}

// Persist writes the current entries. A cache that has not changed since
// the last successful write is not rewritten.
func (p *Persister) Persist(ctx context.Context) {
	version := p.cache.Version()

	p.mu.Lock()
	if p.persisted && version == p.lastVersion {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	snap := snapshot{SavedAt: time.Now().UTC(), Entries: p.cache.Entries()}
	if !p.kv.Save(ctx, kv.NamespaceCache, SnapshotKey, snap) {
		// retried on the next tick even if the cache stays the same
		return
	}

	p.mu.Lock()
	p.lastVersion = version
	p.persisted = true
	p.mu.Unlock()

	p.log.Debug(ctx, "query cache persisted", "entries", len(snap.Entries))
}

// Restore seeds the cache from the stored snapshot. Only entries with data
// are replayed, with their original key and timestamp. A missing or broken
// snapshot leaves the cache as is.
func (p *Persister) Restore(ctx context.Context) int {
	snap, ok := kv.Get[snapshot](ctx, p.kv, kv.NamespaceCache, SnapshotKey)
	if !ok {
		p.log.Debug(ctx, "no query cache snapshot to restore")
		return 0
	}

	n := 0
	for _, e := range snap.Entries {
		if e.Key == "" || !e.HasData() {
			continue
		}
		if live, ok := p.cache.Get(e.Key); ok && live.HasData() && !live.DataUpdatedAt.Before(e.DataUpdatedAt) {
			continue
		}
		p.cache.SetData(e.Key, e.Data, e.DataUpdatedAt)
		n++
	}

	p.log.Info(ctx, "query cache restored", "entries", n, "dropped", len(snap.Entries)-n)
	return n
}

// RestoreAsync runs Restore in the background. The channel is closed when
// it is done.
func (p *Persister) RestoreAsync(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Restore(ctx)
	}()
	return done
}

func (p *Persister) SetOnline(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = online
}

// SetForeground records app visibility. Going to the background persists
// right away.
func (p *Persister) SetForeground(ctx context.Context, foreground bool) {
	p.mu.Lock()
	was := p.foreground
	p.foreground = foreground
	p.mu.Unlock()

	if was && !foreground {
		p.Persist(ctx)
	}
}

func (p *Persister) active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online && p.foreground
}

// Start persists on every interval tick while online and in the foreground.
func (p *Persister) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stop := p.stopCh
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if p.active() {
					p.Persist(ctx)
				}
			}
		}
	}()
}

// Close stops the ticker and writes a final snapshot.
func (p *Persister) Close(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.running = false
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.Persist(ctx)
}
