package cascade

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// step is one independent delete of the write phase.
type step struct {
	label string
	key   string
	run   func(ctx context.Context) (int64, error)
}

// StepResult is the outcome of a single step: a count or an error.
type StepResult struct {
	Label string
	Key   string
	Count int64
	Err   error
}

// runSteps executes every step in order. A failing step never stops the
// ones after it.
func runSteps(ctx context.Context, log *zap.Logger, steps []step) []StepResult {
	results := make([]StepResult, 0, len(steps))
	for _, s := range steps {
		n, err := s.run(ctx)
		if err != nil {
			log.Warn("cascade step failed", zap.String("step", s.label), zap.Error(err))
			n = 0
		}
		results = append(results, StepResult{Label: s.label, Key: s.key, Count: n, Err: err})
	}
	return results
}

// buildReport folds step results into a report, seeding every key with zero.
func buildReport(keys []string, results []StepResult) *Report {
	report := &Report{
		DeletedCounts: make(map[string]int64, len(keys)),
		Errors:        []string{},
	}
	for _, k := range keys {
		report.DeletedCounts[k] = 0
	}
	for _, r := range results {
		report.DeletedCounts[r.Key] += r.Count
		if r.Err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", r.Label, r.Err))
		}
	}
	report.Success = len(report.Errors) == 0
	return report
}
