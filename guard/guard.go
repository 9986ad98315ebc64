// Package guard evaluates a Rego policy over each candidate before the
// operator ever sees it. Denied candidates are dropped from the run and
// reported; they cannot reach the confirmation gate, let alone termination.
package guard

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/yairfalse/decom/telemetry"
	"github.com/yairfalse/decom/types"
)

//go:embed policy.rego
var defaultPolicy string

// Verdict is the guard's ruling on one candidate
type Verdict struct {
	Allowed bool
	Reason  string
}

// Guard wraps a prepared Rego query
type Guard struct {
	query  rego.PreparedEvalQuery
	logger *telemetry.Logger
}

// New compiles the policy at policyPath, or the embedded default when the
// path is empty
func New(ctx context.Context, policyPath string, logger *telemetry.Logger) (*Guard, error) {
	source := defaultPolicy
	name := "policy.rego"

	if policyPath != "" {
		data, err := os.ReadFile(policyPath) // #nosec G304 -- operator-chosen policy file
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file: %w", err)
		}
		source = string(data)
		name = policyPath
	}

	prepared, err := rego.New(
		rego.Query("data.decom.guard.deny"),
		rego.Module(name, source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", name, err)
	}

	return &Guard{query: prepared, logger: logger}, nil
}

// Evaluate runs the deny rules against one candidate. Any deny message
// blocks the candidate; the first message becomes the reason.
func (g *Guard) Evaluate(ctx context.Context, candidate types.Candidate) (Verdict, error) {
	input := map[string]any{
		"candidate": map[string]any{
			"instance_id": candidate.InstanceID,
			"name":        candidate.Name,
			"state":       candidate.State,
			"tags":        candidate.Tags,
		},
	}

	results, err := g.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Verdict{}, fmt.Errorf("policy evaluation failed for %s: %w", candidate.InstanceID, err)
	}

	for _, result := range results {
		for _, expr := range result.Expressions {
			messages, ok := expr.Value.([]any)
			if !ok {
				continue
			}
			for _, raw := range messages {
				msg, ok := raw.(string)
				if !ok {
					msg = fmt.Sprintf("%v", raw)
				}
				g.logger.WithContext(ctx).Warn().
					Str("instance_id", candidate.InstanceID).
					Str("reason", msg).
					Msg("candidate blocked by policy")
				return Verdict{Allowed: false, Reason: msg}, nil
			}
		}
	}

	return Verdict{Allowed: true}, nil
}

// Filter splits candidates into allowed and blocked sets, preserving order
func (g *Guard) Filter(ctx context.Context, candidates []types.Candidate) (allowed []types.Candidate, blocked []types.OutcomeRecord, err error) {
	for _, c := range candidates {
		verdict, err := g.Evaluate(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		if verdict.Allowed {
			allowed = append(allowed, c)
			continue
		}
		blocked = append(blocked, types.OutcomeRecord{
			InstanceID: c.InstanceID,
			Name:       c.Name,
			Stage:      types.StageBlocked,
			Error:      verdict.Reason,
		})
	}
	return allowed, blocked, nil
}
