package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/selfie-capture/internal/logging"
)

// Session statuses stored in capture_sessions.status.
const (
	StatusCapturing = "capturing"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrSessionCompleted is returned when a session already has a terminal status.
var ErrSessionCompleted = errors.New("capture session already completed")

// CaptureSessionRecord represents a persisted capture session.
type CaptureSessionRecord struct {
	ID            uint       `gorm:"primaryKey"`
	SessionID     string     `gorm:"column:session_id;uniqueIndex;size:64"`
	UserID        string     `gorm:"column:user_id;index;size:64"`
	IsEnroll      bool       `gorm:"column:is_enroll"`
	Status        string     `gorm:"column:status;size:16"`
	LivenessCount int        `gorm:"column:liveness_count"`
	ErrorKind     string     `gorm:"column:error_kind;size:32"`
	ErrorMessage  string     `gorm:"column:error_message;type:text"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	CompletedAt   *time.Time `gorm:"column:completed_at"`
}

// TableName overrides the default table name.
func (CaptureSessionRecord) TableName() string {
	return "capture_sessions"
}

// MetricsAggregation is the raw aggregate behind the metrics summary.
type MetricsAggregation struct {
	TotalCount          int64
	SuccessCount        int64
	FailureCount        int64
	AverageDurationSecs float64
}

// SessionRepository provides persistence APIs for capture sessions.
type SessionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSessionRepository creates a new repository instance.
func NewSessionRepository(db *gorm.DB, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:             db,
		logger:         logger.Named("session_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *SessionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&CaptureSessionRecord{})
}

// CreateSession persists a new capture session.
func (r *SessionRepository) CreateSession(ctx context.Context, record *CaptureSessionRecord) error {
	return r.executeWithRetry(ctx, "repository.create_session", record.SessionID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// CompleteSession records the terminal outcome of a session. Only a session
// still capturing can complete; a second outcome yields ErrSessionCompleted.
func (r *SessionRepository) CompleteSession(ctx context.Context, sessionID, status string, livenessCount int, errorKind, errorMessage string, completedAt time.Time) error {
	return r.executeWithRetry(ctx, "repository.complete_session", sessionID, func() error {
		res := r.db.WithContext(ctx).
			Model(&CaptureSessionRecord{}).
			Where("session_id = ? AND status = ?", sessionID, StatusCapturing).
			Updates(map[string]interface{}{
				"status":         status,
				"liveness_count": livenessCount,
				"error_kind":     errorKind,
				"error_message":  errorMessage,
				"completed_at":   completedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := r.db.WithContext(ctx).Model(&CaptureSessionRecord{}).Where("session_id = ?", sessionID).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrSessionCompleted
			}
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// FindBySessionAndUser retrieves a session matching the id and owner.
func (r *SessionRepository) FindBySessionAndUser(ctx context.Context, sessionID, userID string) (*CaptureSessionRecord, error) {
	var record CaptureSessionRecord
	err := r.executeWithRetry(ctx, "repository.find_session", sessionID, func() error {
		return r.db.WithContext(ctx).First(&record, "session_id = ? AND user_id = ?", sessionID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// AggregateMetrics summarises finished sessions.
func (r *SessionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount          int64
		SuccessCount        int64
		FailureCount        int64
		AverageDurationSecs float64
	}
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&CaptureSessionRecord{}).
			Select(`COUNT(*) AS total_count,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS success_count,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failure_count,
				COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - created_at))), 0) AS average_duration_secs`,
				StatusSucceeded, StatusFailed).
			Where("completed_at IS NOT NULL").
			Scan(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &MetricsAggregation{
		TotalCount:          row.TotalCount,
		SuccessCount:        row.SuccessCount,
		FailureCount:        row.FailureCount,
		AverageDurationSecs: row.AverageDurationSecs,
	}, nil
}

func (r *SessionRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	attempts := r.retryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == attempts-1 {
			if !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, ErrSessionCompleted) {
				opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
