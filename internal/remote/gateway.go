// Package remote talks to the owner-filtered task table on the backend.
//
// The production Gateway is a Postgres client (a hosted Postgres such as
// Supabase). Every call is scoped to a user id and runs under a bounded
// timeout. Driver errors are classified into the sentinels of package common.
package remote

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

// TaskInput is the writable part of a remote row.
type TaskInput struct {
	// ClientID is the local task id. (user_id, client_id) is unique remotely,
	// which makes a repeated create of the same task idempotent.
	ClientID    string
	Title       string
	Description string
	Completed   bool
	UpdatedAt   time.Time
}

// InputFrom extracts the writable fields of a local task.
func InputFrom(t tasks.Task) TaskInput {
	return TaskInput{
		ClientID:    t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		UpdatedAt:   t.UpdatedAt,
	}
}

// Gateway is the remote task table as seen by the reconciler. Returned tasks
// carry ServerID and UserID; ID holds the client id the row was created with.
type Gateway interface {
	List(ctx context.Context, userID string) ([]tasks.Task, error)
	Create(ctx context.Context, userID string, in TaskInput) (tasks.Task, error)
	Update(ctx context.Context, userID, serverID string, in TaskInput) (tasks.Task, error)
	Delete(ctx context.Context, userID, serverID string) error
}
