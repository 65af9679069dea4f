package usecase

import "context"

// HistorySummary aggregates one user's screening history.
type HistorySummary struct {
	TotalAnalyses    int64   `json:"total_analyses"`
	PositiveAnalyses int64   `json:"positive_analyses"`
	PositiveRate     float64 `json:"positive_rate"`
	AverageScore     float64 `json:"average_score"`
}

// GetSummary aggregates the caller's persisted analyses.
func (uc *AnalysisUseCase) GetSummary(ctx context.Context, userID string) (*HistorySummary, error) {
	aggregates, err := uc.repo.AggregateForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := &HistorySummary{
		TotalAnalyses:    aggregates.TotalCount,
		PositiveAnalyses: aggregates.PositiveCount,
		AverageScore:     aggregates.AverageScore,
	}
	if aggregates.TotalCount > 0 {
		summary.PositiveRate = float64(aggregates.PositiveCount) / float64(aggregates.TotalCount)
	}
	return summary, nil
}
