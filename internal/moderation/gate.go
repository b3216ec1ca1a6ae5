// Package moderation screens visitor prompts before they reach the assistant.
//
// A hosted classifier labels the content and a rego policy decides whether labelled
// content is allowed through.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/glindsay/resume-assistant/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrPolicyViolation matches any *Violation.
	ErrPolicyViolation = errors.New("content policy violation")
	// ErrModerationUnavailable means the classifier could not be reached or returned nothing.
	ErrModerationUnavailable = errors.New("moderation unavailable")
)

// Violation is content the policy blocked.
type Violation struct {
	Categories []string
}

func (v *Violation) Error() string {
	if len(v.Categories) == 0 {
		return ErrPolicyViolation.Error()
	}
	return ErrPolicyViolation.Error() + ": " + strings.Join(v.Categories, ", ")
}

// Is lets errors.Is(err, ErrPolicyViolation) match a *Violation.
func (v *Violation) Is(target error) bool {
	return target == ErrPolicyViolation
}

// Classifier labels content. *openai.Client satisfies it.
type Classifier interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

var _ Classifier = (*openai.Client)(nil)

// Gate combines a classifier with a rego policy.
type Gate struct {
	classifier Classifier
	model      string
	policy     *policyEngine
	logger     *slog.Logger
}

// NewGate prepares the policy. An empty policy uses DefaultPolicy.
func NewGate(ctx context.Context, classifier Classifier, model, policy string, logger *slog.Logger) (*Gate, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine, err := newPolicyEngine(ctx, policy)
	if err != nil {
		return nil, err
	}
	return &Gate{
		classifier: classifier,
		model:      model,
		policy:     engine,
		logger:     logger,
	}, nil
}

// Check returns nil when content may be relayed, a *Violation when it is blocked and
// an error wrapping ErrModerationUnavailable when it could not be classified.
func (g *Gate) Check(ctx context.Context, content string) error {
	resp, err := g.classifier.Moderations(ctx, openai.ModerationRequest{Input: content, Model: g.model})
	if err != nil {
		metrics.ModerationDecisions.WithLabelValues("unavailable").Inc()
		return fmt.Errorf("%w: %w", ErrModerationUnavailable, err)
	}
	if len(resp.Results) == 0 {
		metrics.ModerationDecisions.WithLabelValues("unavailable").Inc()
		return fmt.Errorf("%w: empty result", ErrModerationUnavailable)
	}

	flagged := false
	var categories []string
	for _, result := range resp.Results {
		flagged = flagged || result.Flagged
		categories = appendCategories(categories, result.Categories)
	}

	decision, err := g.policy.decide(ctx, map[string]interface{}{
		"flagged":    flagged,
		"categories": toInterfaces(categories),
		"length":     utf8.RuneCountInString(content),
	})
	if err != nil {
		metrics.ModerationDecisions.WithLabelValues("unavailable").Inc()
		return fmt.Errorf("%w: %w", ErrModerationUnavailable, err)
	}

	metrics.ModerationDecisions.WithLabelValues(decision).Inc()
	if decision == DecisionBlock {
		g.logger.Info("content blocked by moderation policy", "categories", categories)
		return &Violation{Categories: categories}
	}
	return nil
}

func appendCategories(dst []string, c openai.ResultCategories) []string {
	for _, cat := range []struct {
		name string
		set  bool
	}{
		{"hate", c.Hate},
		{"hate/threatening", c.HateThreatening},
		{"harassment", c.Harassment},
		{"harassment/threatening", c.HarassmentThreatening},
		{"self-harm", c.SelfHarm},
		{"self-harm/intent", c.SelfHarmIntent},
		{"self-harm/instructions", c.SelfHarmInstructions},
		{"sexual", c.Sexual},
		{"sexual/minors", c.SexualMinors},
		{"violence", c.Violence},
		{"violence/graphic", c.ViolenceGraphic},
	} {
		if cat.set && !containsString(dst, cat.name) {
			dst = append(dst, cat.name)
		}
	}
	return dst
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// toInterfaces keeps rego input as plain JSON-like values.
func toInterfaces(list []string) []interface{} {
	out := make([]interface{}, len(list))
	for i, v := range list {
		out[i] = v
	}
	return out
}
