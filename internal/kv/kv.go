// Package kv is the namespaced key-value persistence layer of the client.
//
// It is a best-effort cache, not a source of truth: reads report absence with
// a boolean and every storage or serialization failure is logged and
// swallowed. Callers never see an error from this package.
package kv

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/client/repositories/kvstore"
	"github.com/dmitrijs2005/tasksync/internal/logging"
)

// Namespace partitions the store. Keys are unique within a namespace only.
type Namespace string

const (
	NamespaceCache       Namespace = "cache"
	NamespaceAuth        Namespace = "auth"
	NamespacePreferences Namespace = "preferences"
	NamespaceAppState    Namespace = "app_state"
)

// Namespaces lists every valid namespace.
var Namespaces = []Namespace{NamespaceCache, NamespaceAuth, NamespacePreferences, NamespaceAppState}

func (n Namespace) Valid() bool {
	switch n {
	case NamespaceCache, NamespaceAuth, NamespacePreferences, NamespaceAppState:
		return true
	}
	return false
}

const DefaultTimeout = 5 * time.Second

type Store struct {
	repo    kvstore.Repository
	log     logging.Logger
	timeout time.Duration
}

// New wraps repo. A non-positive timeout selects DefaultTimeout.
func New(repo kvstore.Repository, log logging.Logger, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Store{
		repo:    repo,
		log:     logging.OrNop(log).With("module", "kv"),
		timeout: timeout,
	}
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Store) checkNS(ctx context.Context, ns Namespace, op string) bool {
	if ns.Valid() {
		return true
	}
	s.log.Warn(ctx, "unknown namespace", "op", op, "namespace", string(ns))
	return false
}

// Get reads key from ns and decodes it into T. The boolean is false when the
// key is missing, the stored value cannot be decoded or storage fails.
func Get[T any](ctx context.Context, s *Store, ns Namespace, key string) (T, bool) {
	var zero T

	raw, ok := s.GetRaw(ctx, ns, key)
	if !ok {
		return zero, false
	}

	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		s.log.Warn(ctx, "corrupt value", "namespace", string(ns), "key", key, "error", err)
		return zero, false
	}
	return v, true
}

// GetRaw returns the stored JSON bytes.
func (s *Store) GetRaw(ctx context.Context, ns Namespace, key string) ([]byte, bool) {
	if !s.checkNS(ctx, ns, "get") {
		return nil, false
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	raw, err := s.repo.Get(ctx, string(ns), key)
	if err != nil {
		s.log.Error(ctx, "read failed", "namespace", string(ns), "key", key, "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}
	return raw, true
}

// Set serializes value as JSON and upserts it.
func (s *Store) Set(ctx context.Context, ns Namespace, key string, value any) {
	s.Save(ctx, ns, key, value)
}

// Save is Set for callers that track what reached storage. It reports
// whether the value was written.
func (s *Store) Save(ctx context.Context, ns Namespace, key string, value any) bool {
	if !s.checkNS(ctx, ns, "set") {
		return false
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Error(ctx, "serialize failed", "namespace", string(ns), "key", key, "error", err)
		return false
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.repo.Set(ctx, string(ns), key, raw); err != nil {
		s.log.Error(ctx, "write failed", "namespace", string(ns), "key", key, "error", err)
		return false
	}
	return true
}

// Remove deletes key from ns. Missing keys are ignored.
func (s *Store) Remove(ctx context.Context, ns Namespace, key string) {
	if !s.checkNS(ctx, ns, "remove") {
		return
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.repo.Delete(ctx, string(ns), key); err != nil {
		s.log.Error(ctx, "remove failed", "namespace", string(ns), "key", key, "error", err)
	}
}

// ClearAll deletes every key in ns and nothing else.
func (s *Store) ClearAll(ctx context.Context, ns Namespace) {
	if !s.checkNS(ctx, ns, "clear") {
		return
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.repo.Clear(ctx, string(ns)); err != nil {
		s.log.Error(ctx, "clear failed", "namespace", string(ns), "error", err)
	}
}

// SizeOf returns the number of keys in ns, 0 on failure.
func (s *Store) SizeOf(ctx context.Context, ns Namespace) int {
	if !s.checkNS(ctx, ns, "size") {
		return 0
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	n, err := s.repo.Count(ctx, string(ns))
	if err != nil {
		s.log.Error(ctx, "count failed", "namespace", string(ns), "error", err)
		return 0
	}
	return n
}

// Stats reports the key count of every namespace, including empty ones.
func (s *Store) Stats(ctx context.Context) map[Namespace]int {
	out := make(map[Namespace]int, len(Namespaces))
	for _, ns := range Namespaces {
		out[ns] = 0
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	counts, err := s.repo.CountAll(ctx)
	if err != nil {
		s.log.Error(ctx, "stats failed", "error", err)
		return out
	}
	for ns, n := range counts {
		if Namespace(ns).Valid() {
			out[Namespace(ns)] = n
		}
	}
	return out
}

// ClearMany empties several namespaces at once. Either all of them are
// cleared or, on failure, none is. It reports whether the clear went through.
func (s *Store) ClearMany(ctx context.Context, namespaces ...Namespace) bool {
	names := make([]string, 0, len(namespaces))
	for _, ns := range namespaces {
		if !s.checkNS(ctx, ns, "clear") {
			return false
		}
		names = append(names, string(ns))
	}

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.repo.ClearMany(ctx, names); err != nil {
		s.log.Error(ctx, "clear failed", "namespaces", names, "error", err)
		return false
	}
	return true
}
