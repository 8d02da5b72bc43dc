package messaging

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by bounded queues that cannot accept another
// message right now. Publishers decide whether to drop, retry or fall back.
var ErrQueueFull = errors.New("messaging: queue full")

// Queue represents an abstract message queue for any payload type. The task
// inbox and the audit stream are both queues; durability depends on the
// chosen implementation.
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message from the queue; (nil, nil) means
	// the queue is currently empty.
	Consume(ctx context.Context) (Message[T], error)
}

// Message represents a message retrieved from a queue
type Message[T any] interface {
	// T returns the payload of this message
	T() *T

	// Ack acknowledges successful processing of this message
	Ack() error

	// Nack indicates failure in processing this message
	Nack(err error) error
}
