package reconciler

import (
	"sync"
	"time"
)

const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = 30 * time.Minute
)

// backoff tracks consecutive push failures per task. The delay doubles per
// failure: base, 2*base, 4*base... capped at max.
type backoff struct {
	mu    sync.Mutex
	base  time.Duration
	max   time.Duration
	state map[string]retry
}

type retry struct {
	failures int
	next     time.Time
}

func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max < base {
		max = DefaultBackoffMax
	}
	return &backoff{base: base, max: max, state: make(map[string]retry)}
}

func (b *backoff) delay(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	d := b.base
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= b.max {
			return b.max
		}
	}
	return d
}

// ready reports whether id may be retried at now.
func (b *backoff) ready(id string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.state[id]
	return !ok || !now.Before(r.next)
}

func (b *backoff) fail(id string, now time.Time) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.state[id]
	r.failures++
	d := b.delay(r.failures)
	r.next = now.Add(d)
	b.state[id] = r
	return d
}

func (b *backoff) reset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.state, id)
}

func (b *backoff) failures(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state[id].failures
}
