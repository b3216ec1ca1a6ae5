package moderation

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Decisions the policy may return.
const (
	DecisionAllow = "allow"
	DecisionBlock = "block"
)

// DefaultPolicy blocks whatever the classifier flags.
const DefaultPolicy = `
package moderation

default decision = "allow"

decision = "block" {
	input.flagged
}
`

// policyEngine evaluates data.moderation.decision against a classification.
type policyEngine struct {
	query rego.PreparedEvalQuery
}

func newPolicyEngine(ctx context.Context, policy string) (*policyEngine, error) {
	if policy == "" {
		policy = DefaultPolicy
	}

	r := rego.New(
		rego.Query("data.moderation.decision"),
		rego.Module("moderation.rego", policy),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare moderation policy: %w", err)
	}
	return &policyEngine{query: query}, nil
}

// decide returns DecisionAllow or DecisionBlock. A policy that yields nothing allows.
func (e *policyEngine) decide(ctx context.Context, input map[string]interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("evaluate moderation policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionAllow, nil
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case string:
		if v == DecisionBlock {
			return DecisionBlock, nil
		}
		return DecisionAllow, nil
	default:
		return "", fmt.Errorf("moderation policy returned %T, want string", v)
	}
}
