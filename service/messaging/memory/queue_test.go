package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenflow/warden/service/messaging"
)

type note struct {
	Text string
}

func TestQueue_PublishConsumeAck(t *testing.T) {
	queue := NewQueue[note](DefaultConfig())
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, &note{Text: "first"}))
	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "first", msg.T().Text)
	assert.NoError(t, msg.Ack())

	empty, err := queue.Consume(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestQueue_PublishOnFullBufferNeverBlocks(t *testing.T) {
	queue := NewQueue[note](Config{QueueBuffer: 2})
	ctx := context.Background()

	require.NoError(t, queue.Publish(ctx, &note{Text: "a"}))
	require.NoError(t, queue.Publish(ctx, &note{Text: "b"}))

	// No consumer is draining; the third publish must fail fast instead of
	// waiting for buffer space.
	err := queue.Publish(ctx, &note{Text: "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, messaging.ErrQueueFull)

	// Draining one slot makes publishing possible again.
	msg, err := queue.Consume(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, msg.Ack())
	assert.NoError(t, queue.Publish(ctx, &note{Text: "c"}))
}
