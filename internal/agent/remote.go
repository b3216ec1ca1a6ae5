package agent

import (
	"context"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Remote is the subset of the Assistants API the relay depends on.
type Remote interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	RetrieveThread(ctx context.Context, threadID string) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
	CancelRun(ctx context.Context, threadID string, runID string) (openai.Run, error)
}

// Ensure the real client implements Remote.
var _ Remote = (*openai.Client)(nil)

// RemoteConfig holds credentials for the hosted assistant.
type RemoteConfig struct {
	APIKey         string
	OrganizationID string
	ProjectID      string
	BaseURL        string
	RequestTimeout time.Duration
}

// NewOpenAIRemote builds a client scoped to the configured organization and project.
func NewOpenAIRemote(cfg RemoteConfig) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.OrgID = cfg.OrganizationID
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.ProjectID != "" {
		transport = &projectTransport{project: cfg.ProjectID, next: transport}
	}
	oc.HTTPClient = &http.Client{Timeout: timeout, Transport: transport}

	return openai.NewClientWithConfig(oc)
}

// projectTransport adds the OpenAI-Project header, which the client config has no field for.
type projectTransport struct {
	project string
	next    http.RoundTripper
}

func (t *projectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("OpenAI-Project", t.project)
	return t.next.RoundTrip(req)
}
