package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/glindsay/resume-assistant/internal/api"
	"github.com/glindsay/resume-assistant/internal/audit"
	"github.com/glindsay/resume-assistant/internal/domain"
	"github.com/glindsay/resume-assistant/internal/identity"
	"github.com/glindsay/resume-assistant/internal/moderation"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// defaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
	defaultMaxRequestBodySize = 1 << 20
	// maxPromptLength caps a single prompt, in characters. Keep in sync with askRequest.
	maxPromptLength = 4000
)

// Error codes returned in the "code" field of error responses.
const (
	codeInvalidRequest  = "invalid_request"
	codePolicyViolation = "policy_violation"
	codeTimeout         = "timeout"
	codeRunFailed       = "run_failed"
	codeInternal        = "internal_error"
)

// Moderator screens prompts before they reach the assistant.
type Moderator interface {
	Check(ctx context.Context, content string) error
}

// SessionWriter issues and clears the thread cookie.
type SessionWriter interface {
	SetThread(w http.ResponseWriter, threadID string) error
	Clear(w http.ResponseWriter)
}

// HandlerConfig holds request pipeline settings.
type HandlerConfig struct {
	MaxRequestBodySize int64

	// Production hides error details from clients.
	Production bool
}

type askRequest struct {
	Content string `json:"content" validate:"required,max=4000"`
}

type messagesResponse struct {
	Messages []domain.Message `json:"messages"`
}

// Handler serves the chat endpoints.
type Handler struct {
	service   *Service
	sessions  SessionWriter
	moderator Moderator
	audit     audit.Logger
	cfg       HandlerConfig
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewHandler creates the chat handler. A nil moderator disables the moderation gate.
func NewHandler(service *Service, sessions SessionWriter, moderator Moderator, auditLog audit.Logger, cfg HandlerConfig, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if auditLog == nil {
		auditLog = audit.Noop{}
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	return &Handler{
		service:   service,
		sessions:  sessions,
		moderator: moderator,
		audit:     auditLog,
		cfg:       cfg,
		validate:  validator.New(),
		logger:    logger,
	}
}

// RegisterRoutes registers chat routes. Callers mount it under /api.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/thread-messages", h.HandleThreadMessages)
	r.Get("/thread/messages", h.HandleThreadMessages)
	r.Post("/ask-assistant", h.HandleAsk)
	r.Delete("/thread", h.HandleReset)
}

// HandleThreadMessages handles GET /api/thread-messages.
// Visitors without a conversation get the introduction script and no cookie.
func (h *Handler) HandleThreadMessages(w http.ResponseWriter, r *http.Request) {
	token := identity.ThreadIDFromContext(r.Context())
	if token == "" {
		api.JSON(w, http.StatusOK, messagesResponse{Messages: IntroductionMessages()})
		return
	}

	thread, err := h.service.Resolve(r.Context(), token, true)
	if err != nil {
		if isNotFound(err) {
			h.sessions.Clear(w)
		}
		h.fail(w, r, token, err)
		return
	}

	if err := h.sessions.SetThread(w, thread.ID); err != nil {
		h.fail(w, r, thread.ID, err)
		return
	}

	messages := thread.Messages
	if len(messages) == 0 {
		messages = IntroductionMessages()
	}
	api.JSON(w, http.StatusOK, messagesResponse{Messages: FormatMessages(messages)})
}

// HandleAsk handles POST /api/ask-assistant.
//
//nolint:gocyclo // The pipeline stages are kept inline to preserve request flow.
func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := identity.ThreadIDFromContext(ctx)
	who := identity.IPFromRequest(r)

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodySize)

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.writeError(w, r, token, http.StatusRequestEntityTooLarge, codeInvalidRequest, "request body too large", err)
			return
		}
		h.writeError(w, r, token, http.StatusBadRequest, codeInvalidRequest, "invalid request body", err)
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, r, token, http.StatusBadRequest, codeInvalidRequest,
			fmt.Sprintf("content is required and must be at most %d characters", maxPromptLength), err)
		return
	}

	h.audit.Event(who, req.Content, token, domain.LogTypeRequest)

	if h.moderator != nil {
		if err := h.moderator.Check(ctx, req.Content); err != nil {
			var violation *moderation.Violation
			if errors.As(err, &violation) {
				h.audit.Event(who, violation.Error(), token, domain.LogTypeWarning)
			}
			h.fail(w, r, token, err)
			return
		}
	}

	unlock, err := h.service.Lock(ctx, token)
	if err != nil {
		h.fail(w, r, token, err)
		return
	}
	defer unlock()

	threadID, err := h.service.AppendMessage(ctx, token, req.Content)
	if err != nil {
		if isNotFound(err) {
			h.sessions.Clear(w)
		}
		h.fail(w, r, token, err)
		return
	}

	if err := h.sessions.SetThread(w, threadID); err != nil {
		h.fail(w, r, threadID, err)
		return
	}

	messages, err := h.service.RunAndCollect(ctx, threadID)
	if err != nil {
		h.fail(w, r, threadID, err)
		return
	}

	formatted := FormatMessages(messages)
	if n := len(formatted); n > 0 {
		h.audit.Event(who, formatted[n-1].Content, threadID, domain.LogTypeResponse)
	} else {
		h.audit.Event(who, "run finished without a reply", threadID, domain.LogTypeResponse)
	}

	h.logger.Info("assistant replied",
		"thread_id", threadID,
		"messages", len(formatted),
		"request_id", chiMiddleware.GetReqID(ctx))

	api.JSON(w, http.StatusOK, messagesResponse{Messages: formatted})
}

// HandleReset handles DELETE /api/thread by expiring the thread cookie.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// fail maps a pipeline error to a status code and error code.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, threadID string, err error) {
	var runErr *RunError
	var incomplete *IncompleteRunError

	switch {
	case errors.Is(err, moderation.ErrPolicyViolation):
		h.writeError(w, r, threadID, http.StatusUnprocessableEntity, codePolicyViolation,
			"message was blocked by the content policy", err)
	case errors.Is(err, ErrRunTimeout):
		h.writeError(w, r, threadID, http.StatusGatewayTimeout, codeTimeout,
			"the assistant took too long to reply", err)
	case errors.As(err, &runErr), errors.As(err, &incomplete):
		h.writeError(w, r, threadID, http.StatusBadGateway, codeRunFailed,
			"the assistant could not complete a reply", err)
	default:
		h.writeError(w, r, threadID, http.StatusInternalServerError, codeInternal,
			"an error occurred while processing your request", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, threadID string, status int, code, message string, err error) {
	attrs := []any{
		"thread_id", threadID,
		"path", r.URL.Path,
		"status", status,
		"code", code,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", attrs...)
	} else {
		h.logger.Warn("request rejected", attrs...)
	}

	h.audit.Event(identity.IPFromRequest(r), err.Error(), threadID, domain.LogTypeError)

	body := api.ErrorBody{Error: message, Code: code}
	if !h.cfg.Production {
		body.Detail = err.Error()
	}
	api.Problem(w, status, body)
}

// isNotFound reports whether err came from the remote saying the thread no longer exists.
func isNotFound(err error) bool {
	if !errors.Is(err, ErrThreadLookup) {
		return false
	}
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusNotFound
}
