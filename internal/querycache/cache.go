// Package querycache is an in-memory request cache keyed by structured query
// keys, plus a bridge that snapshots it into the key-value store so results
// survive a restart.
package querycache

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Key is the JSON fingerprint of a query's parts, e.g. ["tasks","list","u1"].
type Key string

// NewKey builds a Key from parts. Parts must be JSON serializable.
func NewKey(parts ...any) Key {
	b, err := json.Marshal(parts)
	if err != nil {
		return Key(fmt.Sprint(parts...))
	}
	return Key(b)
}

// Hash returns the hex blake2b-256 digest of the key.
func (k Key) Hash() string {
	sum := blake2b.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}

// Entry is the state of one cached query.
type Entry struct {
	Key            Key             `json:"key"`
	Hash           string          `json:"hash"`
	Data           json.RawMessage `json:"data"`
	DataUpdatedAt  time.Time       `json:"dataUpdatedAt"`
	Error          string          `json:"error,omitempty"`
	ErrorUpdatedAt time.Time       `json:"errorUpdatedAt,omitzero"`
	Status         Status          `json:"status"`
}

// HasData reports whether the entry carries a non-null result.
func (e Entry) HasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

type Listener func(Entry)

type Cache struct {
	mu        sync.Mutex
	entries   map[Key]*Entry
	version   uint64
	staleTime time.Duration

	subMu   sync.Mutex
	subs    map[int]Listener
	nextSub int

	now func() time.Time
}

// New returns an empty cache. Successful results younger than staleTime are
// served by Fetch without calling the loader.
func New(staleTime time.Duration) *Cache {
	return &Cache{
		entries:   make(map[Key]*Entry),
		staleTime: staleTime,
		subs:      make(map[int]Listener),
		now:       time.Now,
	}
}

func (c *Cache) entryLocked(key Key) *Entry {
	e, ok := c.entries[key]
	if !ok {
		e = &Entry{Key: key, Hash: key.Hash(), Status: StatusIdle}
		c.entries[key] = e
	}
	return e
}

// update mutates the entry of key under the lock and notifies subscribers.
func (c *Cache) update(key Key, fn func(e *Entry)) Entry {
	c.mu.Lock()
	e := c.entryLocked(key)
	fn(e)
	c.version++
	out := *e
	c.mu.Unlock()

	c.notify(out)
	return out
}

func (c *Cache) notify(e Entry) {
	c.subMu.Lock()
	ids := make([]int, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]Listener, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, c.subs[id])
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

// SetData stores a successful result. A zero updatedAt means now.
func (c *Cache) SetData(key Key, data json.RawMessage, updatedAt time.Time) Entry {
	if updatedAt.IsZero() {
		updatedAt = c.now()
	}
	return c.update(key, func(e *Entry) {
		e.Data = append(json.RawMessage(nil), data...)
		e.DataUpdatedAt = updatedAt.UTC()
		e.Error = ""
		e.Status = StatusSuccess
	})
}

// SetError records a failed fetch. Previous data is kept.
func (c *Cache) SetError(key Key, err error, at time.Time) Entry {
	if at.IsZero() {
		at = c.now()
	}
	return c.update(key, func(e *Entry) {
		e.Error = err.Error()
		e.ErrorUpdatedAt = at.UTC()
		e.Status = StatusError
	})
}

func (c *Cache) setPending(key Key) {
	c.update(key, func(e *Entry) { e.Status = StatusPending })
}

func (c *Cache) Get(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (c *Cache) fresh(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.Status != StatusSuccess || c.staleTime <= 0 {
		return Entry{}, false
	}
	if c.now().Sub(e.DataUpdatedAt) >= c.staleTime {
		return Entry{}, false
	}
	return *e, true
}

// Invalidate drops the entry of key.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	if ok {
		c.version++
	}
	c.mu.Unlock()

	if ok {
		c.notify(Entry{Key: key, Hash: key.Hash(), Status: StatusIdle})
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[Key]*Entry)
	c.version++
	c.mu.Unlock()
}

// Entries returns a copy of all entries ordered by key.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Version increases on every change.
func (c *Cache) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Subscribe registers fn for entry changes.
func (c *Cache) Subscribe(fn Listener) (unsubscribe func()) {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// Fetch returns the cached result of key when it is still fresh, otherwise it
// runs load and records the outcome.
func Fetch[T any](ctx context.Context, c *Cache, key Key, load func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if e, ok := c.fresh(key); ok {
		var v T
		if err := json.Unmarshal(e.Data, &v); err == nil {
			return v, nil
		}
	}

	c.setPending(key)

	v, err := load(ctx)
	if err != nil {
		c.SetError(key, err, time.Time{})
		return zero, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		c.SetError(key, err, time.Time{})
		return zero, fmt.Errorf("encode %s: %w", key, err)
	}
	c.SetData(key, raw, time.Time{})

	return v, nil
}
