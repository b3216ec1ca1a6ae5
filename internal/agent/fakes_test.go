package agent

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/glindsay/resume-assistant/internal/domain"
	openai "github.com/sashabaranov/go-openai"
)

// fakeRemote is an in-memory assistant. Threads store messages oldest-first and are listed newest-first.
type fakeRemote struct {
	mu sync.Mutex

	nextID  int
	threads map[string][]openai.Message

	// statuses are returned by successive RetrieveRun calls; the last one repeats.
	statuses  []openai.RunStatus
	lastError *openai.RunLastError
	reply     string

	errs             map[string]error
	retrieveFailures int

	calls       []string
	retrieveRun int
	cancelled   []string
	replied     map[string]bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		threads:  make(map[string][]openai.Message),
		statuses: []openai.RunStatus{openai.RunStatusInProgress, openai.RunStatusCompleted},
		reply:    "Grant is a software engineer【4:0†resume.pdf】 who builds web applications.",
		errs:     make(map[string]error),
		replied:  make(map[string]bool),
	}
}

func (f *fakeRemote) record(name string) error {
	f.calls = append(f.calls, name)
	return f.errs[name]
}

func (f *fakeRemote) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *fakeRemote) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeRemote) seed(role openai.ThreadMessageRole, texts ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	threadID := f.id("thread")
	for _, text := range texts {
		f.threads[threadID] = append(f.threads[threadID], textMessage(f.id("msg"), string(role), text))
	}
	if f.threads[threadID] == nil {
		f.threads[threadID] = []openai.Message{}
	}
	return threadID
}

func textMessage(id, role, text string) openai.Message {
	return openai.Message{
		ID:   id,
		Role: role,
		Content: []openai.MessageContent{{
			Type: "text",
			Text: &openai.MessageText{Value: text},
		}},
	}
}

func (f *fakeRemote) CreateThread(_ context.Context, _ openai.ThreadRequest) (openai.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateThread"); err != nil {
		return openai.Thread{}, err
	}
	id := f.id("thread")
	f.threads[id] = []openai.Message{}
	return openai.Thread{ID: id, Object: "thread"}, nil
}

func (f *fakeRemote) RetrieveThread(_ context.Context, threadID string) (openai.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RetrieveThread"); err != nil {
		return openai.Thread{}, err
	}
	if _, ok := f.threads[threadID]; !ok {
		return openai.Thread{}, &openai.APIError{
			HTTPStatusCode: http.StatusNotFound,
			Message:        "No thread found with id '" + threadID + "'.",
		}
	}
	return openai.Thread{ID: threadID, Object: "thread"}, nil
}

func (f *fakeRemote) CreateMessage(_ context.Context, threadID string, req openai.MessageRequest) (openai.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateMessage"); err != nil {
		return openai.Message{}, err
	}
	msg := textMessage(f.id("msg"), req.Role, req.Content)
	f.threads[threadID] = append(f.threads[threadID], msg)
	return msg, nil
}

func (f *fakeRemote) ListMessage(_ context.Context, threadID string, limit *int, order *string, after *string, _ *string, _ *string) (openai.MessagesList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ListMessage"); err != nil {
		return openai.MessagesList{}, err
	}

	all := slices.Clone(f.threads[threadID])
	if order == nil || *order == "desc" {
		slices.Reverse(all)
	}

	start := 0
	if after != nil {
		for i, m := range all {
			if m.ID == *after {
				start = i + 1
				break
			}
		}
	}

	end := len(all)
	if limit != nil && start+*limit < end {
		end = start + *limit
	}

	page := all[start:end]
	list := openai.MessagesList{Messages: page, HasMore: end < len(all)}
	if len(page) > 0 {
		first, last := page[0].ID, page[len(page)-1].ID
		list.FirstID, list.LastID = &first, &last
	}
	return list, nil
}

func (f *fakeRemote) CreateRun(_ context.Context, threadID string, req openai.RunRequest) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateRun"); err != nil {
		return openai.Run{}, err
	}
	return openai.Run{
		ID:          f.id("run"),
		ThreadID:    threadID,
		AssistantID: req.AssistantID,
		Status:      openai.RunStatusQueued,
	}, nil
}

func (f *fakeRemote) RetrieveRun(_ context.Context, threadID string, runID string) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RetrieveRun"); err != nil {
		return openai.Run{}, err
	}
	if f.retrieveFailures > 0 {
		f.retrieveFailures--
		return openai.Run{}, &openai.APIError{HTTPStatusCode: http.StatusBadGateway, Message: "upstream hiccup"}
	}

	idx := min(f.retrieveRun, len(f.statuses)-1)
	f.retrieveRun++
	run := openai.Run{ID: runID, ThreadID: threadID, Status: f.statuses[idx]}

	switch run.Status {
	case openai.RunStatusCompleted:
		if f.reply != "" && !f.replied[runID] {
			f.replied[runID] = true
			f.threads[threadID] = append(f.threads[threadID],
				textMessage(f.id("msg"), string(openai.ThreadMessageRoleAssistant), f.reply))
		}
	case openai.RunStatusFailed:
		run.LastError = f.lastError
	}
	return run, nil
}

func (f *fakeRemote) CancelRun(_ context.Context, threadID string, runID string) (openai.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.record("CancelRun")
	f.cancelled = append(f.cancelled, runID)
	return openai.Run{ID: runID, ThreadID: threadID, Status: openai.RunStatusCancelling}, nil
}

type auditEntry struct {
	What     string
	ThreadID string
	LogType  domain.LogType
}

// recordingAudit captures audit documents synchronously.
type recordingAudit struct {
	mu      sync.Mutex
	events  []auditEntry
	runs    []domain.RunRecord
	threads []domain.ThreadRecord
}

func (a *recordingAudit) Event(_, what, threadID string, logType domain.LogType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditEntry{What: what, ThreadID: threadID, LogType: logType})
}

func (a *recordingAudit) Run(record domain.RunRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runs = append(a.runs, record)
}

func (a *recordingAudit) Thread(record domain.ThreadRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.threads = append(a.threads, record)
}

func (a *recordingAudit) Close() error { return nil }

func (a *recordingAudit) types() []domain.LogType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]domain.LogType, len(a.events))
	for i, e := range a.events {
		out[i] = e.LogType
	}
	return out
}
