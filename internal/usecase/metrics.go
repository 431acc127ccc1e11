package usecase

import "context"

// MetricsSummary represents aggregated capture session insights.
type MetricsSummary struct {
	TotalSessions          int64   `json:"total_sessions"`
	SuccessfulSessions     int64   `json:"successful_sessions"`
	FailedSessions         int64   `json:"failed_sessions"`
	SuccessRate            float64 `json:"success_rate"`
	AverageDurationSeconds float64 `json:"average_duration_seconds"`
	ActiveSessions         int     `json:"active_sessions"`
}

// GetMetricsSummary aggregates session metrics from persisted records.
func (uc *CaptureUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := uc.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSessions:          aggregation.TotalCount,
		SuccessfulSessions:     aggregation.SuccessCount,
		FailedSessions:         aggregation.FailureCount,
		AverageDurationSeconds: aggregation.AverageDurationSecs,
		ActiveSessions:         uc.activeSessions(),
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
