package repository

import "context"

// UserAggregates summarizes one user's analysis history.
type UserAggregates struct {
	TotalCount    int64
	PositiveCount int64
	AverageScore  float64
}

// AggregateForUser computes history aggregates for a single owner. A user
// without records yields zeroed aggregates.
func (r *AnalysisRepository) AggregateForUser(ctx context.Context, userID string) (*UserAggregates, error) {
	var agg UserAggregates
	err := r.executeWithRetry(ctx, "repository.aggregate_for_user", userID, func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Select("COUNT(*) AS total_count, COALESCE(SUM(label), 0) AS positive_count, COALESCE(AVG(score), 0) AS average_score").
			Where("user_id = ?", userID).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}
