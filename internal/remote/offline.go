package remote

import (
	"context"

	"github.com/dmitrijs2005/tasksync/internal/common"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
)

// Offline is the Gateway used when no backend is configured. Every call
// fails with common.ErrUnavailable, so changes stay queued locally.
var Offline Gateway = offlineGateway{}

type offlineGateway struct{}

func (offlineGateway) List(context.Context, string) ([]tasks.Task, error) {
	return nil, common.ErrUnavailable
}

func (offlineGateway) Create(context.Context, string, TaskInput) (tasks.Task, error) {
	return tasks.Task{}, common.ErrUnavailable
}

func (offlineGateway) Update(context.Context, string, string, TaskInput) (tasks.Task, error) {
	return tasks.Task{}, common.ErrUnavailable
}

func (offlineGateway) Delete(context.Context, string, string) error {
	return common.ErrUnavailable
}
