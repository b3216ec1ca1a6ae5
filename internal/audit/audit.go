// Package audit writes fire-and-forget audit documents (request, response, error and warning
// events, finished runs and created threads) to the document store.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/glindsay/resume-assistant/internal/domain"
	"github.com/glindsay/resume-assistant/internal/store"
	"github.com/google/uuid"
)

const writeTimeout = 5 * time.Second

// Logger accepts audit documents without ever blocking the caller.
type Logger interface {
	Event(who, what, threadID string, logType domain.LogType)
	Run(record domain.RunRecord)
	Thread(record domain.ThreadRecord)
	Close() error
}

// Noop discards everything. Used when auditing is disabled.
type Noop struct{}

func (Noop) Event(string, string, string, domain.LogType) {}
func (Noop) Run(domain.RunRecord)                         {}
func (Noop) Thread(domain.ThreadRecord)                   {}
func (Noop) Close() error                                 { return nil }

type write func(ctx context.Context, repo store.Repository) error

// QueueLogger buffers documents in a bounded queue drained by a single writer goroutine.
// When the queue is full new documents are dropped with a warning.
type QueueLogger struct {
	repo   store.Repository
	logger *slog.Logger
	queue  chan write
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewQueueLogger starts the writer goroutine.
func NewQueueLogger(repo store.Repository, queueSize int, logger *slog.Logger) *QueueLogger {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	l := &QueueLogger{
		repo:   repo,
		logger: logger,
		queue:  make(chan write, queueSize),
		done:   make(chan struct{}),
	}
	go l.drain()
	return l
}

// Event queues a log event.
func (l *QueueLogger) Event(who, what, threadID string, logType domain.LogType) {
	event := &domain.LogEvent{
		ID:       uuid.NewString(),
		Who:      who,
		When:     time.Now().UTC(),
		What:     what,
		ThreadID: threadID,
		LogType:  logType,
	}
	l.enqueue("log_event", func(ctx context.Context, repo store.Repository) error {
		return repo.InsertLogEvent(ctx, event)
	})
}

// Run queues a run record.
func (l *QueueLogger) Run(record domain.RunRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	l.enqueue("run", func(ctx context.Context, repo store.Repository) error {
		return repo.InsertRun(ctx, &record)
	})
}

// Thread queues a thread record.
func (l *QueueLogger) Thread(record domain.ThreadRecord) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	l.enqueue("thread", func(ctx context.Context, repo store.Repository) error {
		return repo.InsertThread(ctx, &record)
	})
}

// Close stops accepting documents and waits for queued ones to be written.
func (l *QueueLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *QueueLogger) enqueue(kind string, w write) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.logger.Debug("audit logger closed, dropping document", "kind", kind)
		return
	}

	select {
	case l.queue <- w:
	default:
		l.logger.Warn("audit queue full, dropping document", "kind", kind)
	}
}

func (l *QueueLogger) drain() {
	defer close(l.done)
	for w := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := w(ctx, l.repo)
		cancel()
		if err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error("failed to write audit document", "error", err)
		}
	}
}
