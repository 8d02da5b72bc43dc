// Package fs implements a filesystem-backed messaging.Queue. Message state is
// encoded as physical location within bucket directories (pending, processing,
// completed, failed, dlq), which keeps the queue durable across restarts and
// browsable by a human.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"github.com/wardenflow/warden/internal/clock"
	"github.com/wardenflow/warden/internal/idgen"
	"github.com/wardenflow/warden/service/messaging"
)

// MessageState represents the state of a message in the filesystem queue
type MessageState string

const (
	MessageStatePending    MessageState = "pending"
	MessageStateProcessing MessageState = "processing"
	MessageStateCompleted  MessageState = "completed"
	MessageStateFailed     MessageState = "failed"
)

// Message implements messaging.Message for the filesystem queue
type Message[T any] struct {
	ID        string       `json:"id"`
	Data      T            `json:"data"`
	State     MessageState `json:"state"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
	Retries   int          `json:"retries"`

	queue     *Queue[T]
	processed bool
	mu        sync.Mutex
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.Data
}

// Ack acknowledges that the message was processed successfully
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.State = MessageStateCompleted
	m.UpdatedAt = clock.Now()
	return m.queue.completeMessage(context.Background(), m)
}

// Nack indicates that the message processing failed
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return fmt.Errorf("message already processed")
	}
	m.processed = true
	m.State = MessageStateFailed
	if err != nil {
		m.Error = err.Error()
	}
	m.Retries++
	m.UpdatedAt = clock.Now()
	return m.queue.failMessage(context.Background(), m)
}

// Config holds configuration for filesystem queue
type Config struct {
	BasePath   string // Base directory for queue files
	MaxRetries int    // Maximum number of redelivery attempts before DLQ
}

// DefaultConfig returns a default queue configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
	}
}

// Queue implements a filesystem-based messaging.Queue
type Queue[T any] struct {
	fs            afs.Service
	config        Config
	pendingDir    string
	processingDir string
	completedDir  string
	failedDir     string
	dlqDir        string
	mu            sync.Mutex
}

// NewQueue creates a new filesystem-based queue
func NewQueue[T any](fs afs.Service, config Config) (*Queue[T], error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	q := &Queue[T]{
		fs:            fs,
		config:        config,
		pendingDir:    url.Join(config.BasePath, "pending"),
		processingDir: url.Join(config.BasePath, "processing"),
		completedDir:  url.Join(config.BasePath, "completed"),
		failedDir:     url.Join(config.BasePath, "failed"),
		dlqDir:        url.Join(config.BasePath, "dlq"),
	}

	ctx := context.Background()
	for _, dir := range []string{q.pendingDir, q.processingDir, q.completedDir, q.failedDir, q.dlqDir} {
		exists, _ := fs.Exists(ctx, dir)
		if !exists {
			if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}
	return q, nil
}

// PendingDir exposes the pending bucket location, e.g. for change watchers.
func (q *Queue[T]) PendingDir() string {
	return q.pendingDir
}

// Publish adds a new message to the queue
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	now := clock.Now()
	message := &Message[T]{
		ID:        idgen.New(),
		Data:      *t,
		State:     MessageStatePending,
		CreatedAt: now,
		UpdatedAt: now,
		queue:     q,
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return q.upload(ctx, url.Join(q.pendingDir, q.filename(message.ID)), data)
}

// Consume retrieves the oldest pending message, moving it into the processing
// bucket. Failed messages eligible for redelivery take precedence.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	redelivery, err := q.checkFailedMessages(ctx)
	if err != nil {
		return nil, err
	}
	if redelivery != nil {
		return redelivery, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err := q.listMessages(ctx, q.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending messages: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	obj := pending[0]

	message, err := q.readMessage(ctx, obj.URL())
	if err != nil {
		// Quarantine an unreadable document so it cannot wedge the queue.
		_ = q.fs.Move(ctx, obj.URL(), url.Join(q.failedDir, fmt.Sprintf("invalid-%s", obj.Name())))
		return nil, err
	}

	message.State = MessageStateProcessing
	message.UpdatedAt = clock.Now()
	message.queue = q

	if err := q.relocate(ctx, message, obj.URL(), url.Join(q.processingDir, obj.Name())); err != nil {
		return nil, err
	}
	return message, nil
}

// checkFailedMessages looks for failed messages eligible for redelivery
func (q *Queue[T]) checkFailedMessages(ctx context.Context) (*Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	failed, err := q.listMessages(ctx, q.failedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list failed messages: %w", err)
	}
	if len(failed) == 0 {
		return nil, nil
	}
	obj := failed[0]

	message, err := q.readMessage(ctx, obj.URL())
	if err != nil {
		_ = q.fs.Move(ctx, obj.URL(), url.Join(q.dlqDir, fmt.Sprintf("invalid-%s", obj.Name())))
		return nil, err
	}

	if message.Retries > q.config.MaxRetries {
		if err := q.fs.Move(ctx, obj.URL(), url.Join(q.dlqDir, obj.Name())); err != nil {
			return nil, fmt.Errorf("failed to move message to DLQ: %w", err)
		}
		return nil, nil
	}

	message.State = MessageStateProcessing
	message.UpdatedAt = clock.Now()
	message.queue = q

	if err := q.relocate(ctx, message, obj.URL(), url.Join(q.processingDir, obj.Name())); err != nil {
		return nil, err
	}
	return message, nil
}

// completeMessage moves a message to the completed directory
func (q *Queue[T]) completeMessage(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal completed message: %w", err)
	}
	if err := q.upload(ctx, url.Join(q.completedDir, q.filename(m.ID)), data); err != nil {
		return fmt.Errorf("failed to write message to completed directory: %w", err)
	}
	return q.removeProcessing(ctx, m.ID)
}

// failMessage handles a failed message (redelivery or move to DLQ)
func (q *Queue[T]) failMessage(ctx context.Context, m *Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal failed message: %w", err)
	}

	destDir := q.failedDir
	if m.Retries > q.config.MaxRetries {
		destDir = q.dlqDir
	}
	if err := q.upload(ctx, url.Join(destDir, q.filename(m.ID)), data); err != nil {
		return fmt.Errorf("failed to write message to %s: %w", destDir, err)
	}
	return q.removeProcessing(ctx, m.ID)
}

func (q *Queue[T]) removeProcessing(ctx context.Context, id string) error {
	processingPath := url.Join(q.processingDir, q.filename(id))
	if exists, _ := q.fs.Exists(ctx, processingPath); exists {
		if err := q.fs.Delete(ctx, processingPath); err != nil {
			return fmt.Errorf("failed to delete message from processing directory: %w", err)
		}
	}
	return nil
}

// relocate writes the updated message to destPath first and only then removes
// the source, so a crash in between duplicates rather than loses the message.
func (q *Queue[T]) relocate(ctx context.Context, m *Message[T], sourceURL, destPath string) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := q.upload(ctx, destPath, data); err != nil {
		return fmt.Errorf("failed to move message to %s: %w", destPath, err)
	}
	if err := q.fs.Delete(ctx, sourceURL); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", sourceURL, err)
	}
	return nil
}

func (q *Queue[T]) listMessages(ctx context.Context, dir string) ([]storage.Object, error) {
	objects, err := q.fs.List(ctx, dir, option.NewRecursive(false))
	if err != nil {
		return nil, err
	}
	var files []storage.Object
	for _, obj := range objects {
		if !obj.IsDir() && strings.HasSuffix(obj.Name(), ".json") {
			files = append(files, obj)
		}
	}
	return files, nil
}

func (q *Queue[T]) filename(id string) string {
	return fmt.Sprintf("%s.json", id)
}

func (q *Queue[T]) upload(ctx context.Context, path string, data []byte) error {
	return q.fs.Upload(ctx, path, file.DefaultFileOsMode, bytes.NewReader(data))
}

func (q *Queue[T]) readMessage(ctx context.Context, location string) (*Message[T], error) {
	data, err := q.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", location, err)
	}
	var message Message[T]
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", location, err)
	}
	return &message, nil
}

// ensure Queue implements messaging.Queue interface
var _ messaging.Queue[any] = (*Queue[any])(nil)
