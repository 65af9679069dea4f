package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/retina-check/internal/logging"
)

// ErrNotFound is returned when a record does not exist or belongs to another
// user. The two cases are indistinguishable on purpose: ownership must never
// leak through differentiated errors.
var ErrNotFound = errors.New("analysis record not found")

// Order selects the chronological direction of a history query.
type Order int

const (
	// NewestFirst is the on-screen history ordering.
	NewestFirst Order = iota
	// OldestFirst makes batch reports read like a chronological log.
	OldestFirst
)

// AnalysisRecord is one persisted classification outcome. Records are
// append-only: created once after a successful classification, never updated
// or deleted.
type AnalysisRecord struct {
	ID        uint      `gorm:"primaryKey"`
	CreatedAt time.Time `gorm:"column:created_at"`
	Label     int       `gorm:"column:label;not null"`
	Score     *float64  `gorm:"column:score"`
	ImagePath string    `gorm:"column:image_path;size:255"`
	// ReportPath is reserved for a cached report artifact; no code path
	// populates it today.
	ReportPath *string `gorm:"column:report_path;size:255"`
	UserID     string  `gorm:"column:user_id;size:64;index;not null"`
}

// TableName overrides the default table name.
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// AnalysisRepository provides persistence APIs for analysis records.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisRecord{})
}

// Create persists a new analysis record. The record's timestamp is assigned
// here if the caller left it zero.
func (r *AnalysisRepository) Create(ctx context.Context, record *AnalysisRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	return r.executeWithRetry(ctx, "repository.create", record.UserID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// ListForUser returns all records owned by userID in the requested order. A
// user without records gets an empty slice, not an error.
func (r *AnalysisRepository) ListForUser(ctx context.Context, userID string, order Order) ([]AnalysisRecord, error) {
	direction := "created_at DESC, id DESC"
	if order == OldestFirst {
		direction = "created_at ASC, id ASC"
	}

	var records []AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.list_for_user", userID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order(direction).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetForUser retrieves one record scoped to its owner. Missing ids and
// foreign-owned ids both come back as ErrNotFound.
func (r *AnalysisRepository) GetForUser(ctx context.Context, userID string, id uint) (*AnalysisRecord, error) {
	var record AnalysisRecord
	err := r.db.WithContext(ctx).
		First(&record, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, logging.NewOperationError("repository.get_for_user", userID, err)
	}
	return &record, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, userID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, userID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, userID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, userID, ctx.Err())
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

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, userID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, userID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
