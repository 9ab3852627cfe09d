package ports

import "context"

// Task is a unit of background work.
type Task func(ctx context.Context) error

// TaskQueue runs tasks off the request path. Tasks sharing a key run in
// enqueue order. Enqueue never blocks and reports false when the task was dropped.
type TaskQueue interface {
	Enqueue(key, name string, task Task) bool
}
