package audit

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glindsay/resume-assistant/internal/domain"
	"github.com/glindsay/resume-assistant/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingRepo struct {
	release chan struct{}

	mu     sync.Mutex
	events []*domain.LogEvent
	runs   []*domain.RunRecord
}

func (r *blockingRepo) InsertLogEvent(_ context.Context, event *domain.LogEvent) error {
	<-r.release
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *blockingRepo) InsertRun(_ context.Context, run *domain.RunRecord) error {
	<-r.release
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
	return nil
}

func (r *blockingRepo) InsertThread(context.Context, *domain.ThreadRecord) error { return nil }

func (r *blockingRepo) RecentLogEvents(context.Context, int) ([]*domain.LogEvent, error) {
	return nil, nil
}

func (r *blockingRepo) Ping(context.Context) error { return nil }
func (r *blockingRepo) Close() error               { return nil }

func TestQueueLoggerWritesToStore(t *testing.T) {
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	l := NewQueueLogger(repo, 10, nil)
	l.Event("10.0.0.1", "What does Grant do for work?", "", domain.LogTypeRequest)
	l.Event("10.0.0.1", "Grant is a software engineer.", "thread_1", domain.LogTypeResponse)
	l.Run(domain.RunRecord{RunID: "run_1", ThreadID: "thread_1", Status: "completed", Payload: json.RawMessage(`{}`)})
	l.Thread(domain.ThreadRecord{ThreadID: "thread_1", Payload: json.RawMessage(`{}`)})
	require.NoError(t, l.Close())

	events, err := repo.RecentLogEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEmpty(t, events[0].ID)
	assert.ElementsMatch(t,
		[]domain.LogType{domain.LogTypeRequest, domain.LogTypeResponse},
		[]domain.LogType{events[0].LogType, events[1].LogType})
}

func TestQueueLoggerDropsWhenFull(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{})}
	l := NewQueueLogger(repo, 1, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			l.Event("who", "what", "", domain.LogTypeRequest)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Event blocked on a full queue")
	}

	close(repo.release)
	require.NoError(t, l.Close())

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.NotEmpty(t, repo.events)
	assert.Less(t, len(repo.events), 50)
}

func TestQueueLoggerCloseIsIdempotent(t *testing.T) {
	repo := &blockingRepo{release: make(chan struct{})}
	close(repo.release)

	l := NewQueueLogger(repo, 4, nil)
	l.Run(domain.RunRecord{RunID: "run_1"})
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	// Documents after Close are dropped rather than panicking on a closed channel.
	assert.NotPanics(t, func() { l.Event("who", "late", "", domain.LogTypeWarning) })

	repo.mu.Lock()
	defer repo.mu.Unlock()
	require.Len(t, repo.runs, 1)
	assert.NotEmpty(t, repo.runs[0].ID)
	assert.False(t, repo.runs[0].CreatedAt.IsZero())
}

func TestNoop(t *testing.T) {
	var l Logger = Noop{}
	l.Event("a", "b", "c", domain.LogTypeError)
	assert.NoError(t, l.Close())
}
