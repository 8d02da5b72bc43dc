package dao

import (
	"context"
)

// Service is the generic persistence contract shared by every durable entity
// in the engine (tasks, approval requests). Implementations must make Save
// atomic at document granularity: a reader never observes a partial write.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
