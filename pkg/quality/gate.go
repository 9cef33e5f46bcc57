// Package quality evaluates agent results against configured metrics and
// thresholds, yielding a pass/fail verdict that decides whether a result
// is acceptable enough to unblock dependents.
package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tandemflow/tandem/pkg/a2a"
)

// Rule computes one named metric for a result. Rules are pluggable
// external collaborators; the gate only combines their scores.
type Rule interface {
	Name() string
	Score(ctx context.Context, result *a2a.Envelope) (float64, error)
}

// Level is the discrete quality level derived from the combined scores.
type Level string

const (
	LevelExcellent  Level = "excellent"
	LevelAcceptable Level = "acceptable"
	LevelPoor       Level = "poor"
	LevelFail       Level = "fail"
)

// Level band cut-offs over the mean score.
const (
	excellentCutoff  = 0.9
	acceptableCutoff = 0.7
)

// Report is the outcome of one gate evaluation.
type Report struct {
	Scores map[string]float64 `json:"scores"`
	Level  Level              `json:"level"`
	Pass   bool               `json:"pass"`
}

// Summary renders a compact human-readable view of the report, stable
// across runs (metric names sorted).
func (r *Report) Summary() string {
	names := make([]string, 0, len(r.Scores))
	for name := range r.Scores {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "level=%s pass=%t", r.Level, r.Pass)
	for _, name := range names {
		fmt.Fprintf(&sb, " %s=%.2f", name, r.Scores[name])
	}
	return sb.String()
}

// GateError reports a fail verdict. Node-level and retryable per the
// scheduler's retry policy, distinct from protocol failures.
type GateError struct {
	Report *Report
}

func (e *GateError) Error() string {
	return "quality gate failed: " + e.Report.Summary()
}

// Gate combines rule scores into a report using per-metric thresholds.
type Gate struct {
	rules      []Rule
	thresholds map[string]float64
}

// NewGate creates a gate over the given rules. Thresholds map metric
// name to the minimum acceptable score; metrics without a threshold
// only influence the level, not the verdict. A threshold naming a
// metric no rule computes is rejected, so a misspelled threshold can
// never silently disable gating.
func NewGate(rules []Rule, thresholds map[string]float64) (*Gate, error) {
	known := make(map[string]bool, len(rules))
	for _, r := range rules {
		known[r.Name()] = true
	}
	for name := range thresholds {
		if !known[name] {
			return nil, fmt.Errorf("quality threshold %q does not match any rule", name)
		}
	}
	return &Gate{
		rules:      rules,
		thresholds: thresholds,
	}, nil
}

// Evaluate scores the result with every rule and combines the scores.
// A rule error aborts the evaluation; it is an execution problem, not a
// verdict.
func (g *Gate) Evaluate(ctx context.Context, result *a2a.Envelope) (*Report, error) {
	scores := make(map[string]float64, len(g.rules))
	for _, rule := range g.rules {
		score, err := rule.Score(ctx, result)
		if err != nil {
			return nil, fmt.Errorf("metric %q failed: %w", rule.Name(), err)
		}
		scores[rule.Name()] = score
	}

	pass := true
	for name, min := range g.thresholds {
		score, ok := scores[name]
		if !ok {
			continue
		}
		if score < min {
			pass = false
		}
	}

	report := &Report{
		Scores: scores,
		Level:  deriveLevel(scores, pass),
		Pass:   pass,
	}
	return report, nil
}

// Check evaluates the result and converts a fail verdict into a
// *GateError so callers can feed it straight into the retry policy.
func (g *Gate) Check(ctx context.Context, result *a2a.Envelope) (*Report, error) {
	report, err := g.Evaluate(ctx, result)
	if err != nil {
		return nil, err
	}
	if !report.Pass {
		return report, &GateError{Report: report}
	}
	return report, nil
}

func deriveLevel(scores map[string]float64, pass bool) Level {
	if !pass {
		return LevelFail
	}
	if len(scores) == 0 {
		return LevelAcceptable
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	mean := sum / float64(len(scores))

	switch {
	case mean >= excellentCutoff:
		return LevelExcellent
	case mean >= acceptableCutoff:
		return LevelAcceptable
	default:
		// Thresholds passed, so the verdict stands even when the mean
		// lands in the lowest band.
		return LevelPoor
	}
}
