// Package agent relays visitor prompts to the hosted resume assistant and returns the conversation.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/glindsay/resume-assistant/internal/audit"
	"github.com/glindsay/resume-assistant/internal/config"
	"github.com/glindsay/resume-assistant/internal/domain"
	"github.com/glindsay/resume-assistant/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
)

const listPageSize = 100

// Config holds relay configuration.
type Config struct {
	AssistantID      string
	PollInterval     time.Duration
	MaxPollInterval  time.Duration
	RunTimeout       time.Duration
	IncompletePolicy string
	SerializeThreads bool
}

// DefaultConfig returns default relay configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:     500 * time.Millisecond,
		MaxPollInterval:  3 * time.Second,
		RunTimeout:       90 * time.Second,
		IncompletePolicy: config.IncompletePolicyEmpty,
		SerializeThreads: true,
	}
}

// ConfigFromApp maps application configuration onto the relay.
func ConfigFromApp(cfg *config.Config) Config {
	return Config{
		AssistantID:      cfg.OpenAI.AssistantID,
		PollInterval:     cfg.Run.PollInterval,
		MaxPollInterval:  cfg.Run.MaxPollInterval,
		RunTimeout:       cfg.Run.Timeout,
		IncompletePolicy: cfg.Run.IncompletePolicy,
		SerializeThreads: cfg.Run.SerializeThreads,
	}
}

// Thread is a remote conversation and, when requested, its messages in chronological order.
type Thread struct {
	ID       string
	Messages []domain.Message
}

// Service talks to the remote assistant on behalf of one request at a time.
type Service struct {
	remote Remote
	cfg    Config
	audit  audit.Logger
	locks  *threadLocks
	logger *slog.Logger
}

// NewService creates a relay service. A nil audit logger disables auditing.
func NewService(remote Remote, cfg Config, auditLog audit.Logger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLog == nil {
		auditLog = audit.Noop{}
	}

	defaults := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.MaxPollInterval < cfg.PollInterval {
		cfg.MaxPollInterval = cfg.PollInterval
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = defaults.RunTimeout
	}

	s := &Service{
		remote: remote,
		cfg:    cfg,
		audit:  auditLog,
		logger: logger,
	}
	if cfg.SerializeThreads {
		s.locks = newThreadLocks()
	}
	return s
}

// Resolve returns the thread for token, creating a new one when token is empty.
// Message retrieval failures are logged and produce an empty history.
func (s *Service) Resolve(ctx context.Context, token string, includeMessages bool) (*Thread, error) {
	if token == "" {
		created, err := s.remote.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrThreadCreation, err)
		}

		metrics.ThreadsCreated.Inc()
		s.logger.Info("created thread", "thread_id", created.ID)
		s.audit.Thread(domain.ThreadRecord{ThreadID: created.ID, Payload: marshalPayload(created)})

		return &Thread{ID: created.ID, Messages: []domain.Message{}}, nil
	}

	existing, err := s.remote.RetrieveThread(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("%w: thread %s: %w", ErrThreadLookup, token, err)
	}

	thread := &Thread{ID: existing.ID, Messages: []domain.Message{}}
	if thread.ID == "" {
		thread.ID = token
	}
	if !includeMessages {
		return thread, nil
	}

	messages, err := s.listMessages(ctx, thread.ID)
	if err != nil {
		s.logger.Error("failed to list thread messages", "thread_id", thread.ID, "error", err)
		return thread, nil
	}
	thread.Messages = messages
	return thread, nil
}

// AppendMessage adds a user message to the token's thread, creating the thread when needed.
// It returns the thread id the message was added to.
func (s *Service) AppendMessage(ctx context.Context, token, content string) (string, error) {
	thread, err := s.Resolve(ctx, token, false)
	if err != nil {
		return "", err
	}

	if _, err := s.remote.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: content,
	}); err != nil {
		return "", fmt.Errorf("%w: thread %s: %w", ErrMessageAppend, thread.ID, err)
	}

	return thread.ID, nil
}

// RunAndCollect starts the assistant on threadID, waits for it to finish and returns the
// thread's full history in chronological order.
func (s *Service) RunAndCollect(ctx context.Context, threadID string) ([]domain.Message, error) {
	run, err := s.remote.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: s.cfg.AssistantID})
	if err != nil {
		return nil, fmt.Errorf("%w: thread %s: %w", ErrRunCreation, threadID, err)
	}
	if run.ThreadID == "" {
		run.ThreadID = threadID
	}

	s.logger.Debug("run created", "thread_id", threadID, "run_id", run.ID, "status", run.Status)

	run, err = s.awaitRun(ctx, run)
	if err != nil {
		return nil, err
	}

	metrics.RunOutcomes.WithLabelValues(string(run.Status)).Inc()
	s.audit.Run(domain.RunRecord{
		RunID:    run.ID,
		ThreadID: threadID,
		Status:   string(run.Status),
		Payload:  marshalPayload(run),
	})

	if run.Status == openai.RunStatusCompleted {
		messages, err := s.listMessages(ctx, threadID)
		if err != nil {
			return nil, fmt.Errorf("list messages for thread %s: %w", threadID, err)
		}
		return messages, nil
	}

	if run.LastError != nil {
		return nil, &RunError{
			RunID:   run.ID,
			Status:  string(run.Status),
			Code:    string(run.LastError.Code),
			Message: run.LastError.Message,
		}
	}

	s.logger.Warn("run ended without completing", "thread_id", threadID, "run_id", run.ID, "status", run.Status)
	if s.cfg.IncompletePolicy == config.IncompletePolicyError {
		return nil, &IncompleteRunError{RunID: run.ID, Status: string(run.Status)}
	}
	return []domain.Message{}, nil
}

// Lock serializes callers working on the same thread. It is a no-op when serialization is off.
func (s *Service) Lock(ctx context.Context, threadID string) (func(), error) {
	if s.locks == nil || threadID == "" {
		return func() {}, nil
	}
	return s.locks.acquire(ctx, threadID)
}

// listMessages pages through the whole thread newest-first and returns it oldest-first.
func (s *Service) listMessages(ctx context.Context, threadID string) ([]domain.Message, error) {
	limit := listPageSize
	order := "desc"
	var after *string

	messages := []domain.Message{}
	for {
		page, err := s.remote.ListMessage(ctx, threadID, &limit, &order, after, nil, nil)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			messages = append(messages, fromRemote(m))
		}
		if !page.HasMore || page.LastID == nil || *page.LastID == "" {
			break
		}
		if after != nil && *after == *page.LastID {
			break
		}
		after = page.LastID
	}

	slices.Reverse(messages)
	return messages, nil
}

func marshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}
