package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tasksync/internal/dbx"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Get returns (nil, nil) when the key is absent.
func (r *SQLiteRepository) Get(ctx context.Context, ns, key string) ([]byte, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE namespace = ? AND key = ?`, ns, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kv[%s/%s]: %w", ns, key, err)
	}
	return value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, ns, key string, value []byte) error {
	return set(ctx, r.db, ns, key, value)
}

func set(ctx context.Context, db dbx.DBTX, ns, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO kv (namespace, key, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, ns, key, value)
	if err != nil {
		return fmt.Errorf("failed to set kv[%s/%s]: %w", ns, key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, ns, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ? AND key = ?`, ns, key)
	if err != nil {
		return fmt.Errorf("failed to delete kv[%s/%s]: %w", ns, key, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context, ns string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, ns)
	if err != nil {
		return fmt.Errorf("failed to clear kv namespace %s: %w", ns, err)
	}
	return nil
}

// ClearMany empties the namespaces atomically: either all of them are
// cleared or none is.
func (r *SQLiteRepository) ClearMany(ctx context.Context, namespaces []string) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, ns := range namespaces {
			if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE namespace = ?`, ns); err != nil {
				return fmt.Errorf("namespace %s: %w", ns, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear kv namespaces: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, ns string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv WHERE namespace = ?`, ns).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count kv namespace %s: %w", ns, err)
	}
	return n, nil
}

func (r *SQLiteRepository) CountAll(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT namespace, COUNT(*) FROM kv GROUP BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("failed to count kv: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, fmt.Errorf("failed to scan kv count: %w", err)
		}
		result[ns] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate kv counts: %w", err)
	}

	return result, nil
}
