package memory

import (
	"context"

	"github.com/mnemo-sh/mnemo/internal/types"
)

// RecordFixAttempt notes that a strategy is being tried against an error.
func (s *Service) RecordFixAttempt(ctx context.Context, errorText, strategyText string) (*types.FixOutcome, error) {
	return s.tracker.RecordAttempt(ctx, errorText, strategyText)
}

// RecordFixOutcome records whether an attempted fix worked.
func (s *Service) RecordFixOutcome(ctx context.Context, errorText, strategyText string, success bool) (*types.FixOutcome, error) {
	return s.tracker.RecordOutcome(ctx, errorText, strategyText, success)
}

// FixHistory returns what is known about fixing an error, bucketed into
// recommended, banned, and pending strategies.
func (s *Service) FixHistory(ctx context.Context, errorText string) (*types.FixHistory, error) {
	return s.tracker.QueryHistory(ctx, errorText)
}
