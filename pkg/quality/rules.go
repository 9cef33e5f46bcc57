package quality

import (
	"context"
	"strings"

	"github.com/tandemflow/tandem/pkg/a2a"
)

// RuleFunc adapts a function to the Rule interface.
type RuleFunc struct {
	MetricName string
	Fn         func(ctx context.Context, result *a2a.Envelope) (float64, error)
}

func (r RuleFunc) Name() string { return r.MetricName }

func (r RuleFunc) Score(ctx context.Context, result *a2a.Envelope) (float64, error) {
	return r.Fn(ctx, result)
}

// ============================================================================
// BUILTIN RULES
// ============================================================================

// CompletenessRule scores 1.0 when the result carries any text content.
type CompletenessRule struct{}

func (CompletenessRule) Name() string { return "completeness" }

func (CompletenessRule) Score(_ context.Context, result *a2a.Envelope) (float64, error) {
	if strings.TrimSpace(result.Text()) == "" {
		return 0.0, nil
	}
	return 1.0, nil
}

// LengthRule scores how close the result text comes to a minimum length,
// saturating at 1.0.
type LengthRule struct {
	Min int
}

func (LengthRule) Name() string { return "length" }

func (r LengthRule) Score(_ context.Context, result *a2a.Envelope) (float64, error) {
	min := r.Min
	if min <= 0 {
		min = 1
	}
	n := len(strings.TrimSpace(result.Text()))
	if n >= min {
		return 1.0, nil
	}
	return float64(n) / float64(min), nil
}

// KeywordOverlapRule scores the fraction of query words present in the
// result text. A cheap relevance proxy usable without an external judge.
type KeywordOverlapRule struct {
	Query string
}

func (KeywordOverlapRule) Name() string { return "relevance" }

func (r KeywordOverlapRule) Score(_ context.Context, result *a2a.Envelope) (float64, error) {
	words := strings.Fields(strings.ToLower(r.Query))
	if len(words) == 0 {
		return 1.0, nil
	}

	text := strings.ToLower(result.Text())
	matches := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			matches++
		}
	}
	return float64(matches) / float64(len(words)), nil
}
