// Package kvstore is the SQLite-backed storage behind the namespaced
// key-value layer. Rows live in the kv table keyed by (namespace, key).
package kvstore

import (
	"context"
)

type Repository interface {
	Get(ctx context.Context, ns, key string) ([]byte, error)
	Set(ctx context.Context, ns, key string, value []byte) error
	Delete(ctx context.Context, ns, key string) error
	Clear(ctx context.Context, ns string) error
	// ClearMany empties every listed namespace in one transaction.
	ClearMany(ctx context.Context, namespaces []string) error
	Count(ctx context.Context, ns string) (int, error)
	CountAll(ctx context.Context) (map[string]int, error)
}
