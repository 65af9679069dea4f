package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/retina-check/internal/classifier"
	"github.com/example/retina-check/internal/imagestore"
	"github.com/example/retina-check/internal/logging"
	"github.com/example/retina-check/internal/report"
	"github.com/example/retina-check/internal/repository"
)

// Stage errors of the upload pipeline, wrapped around the underlying cause.
var (
	// ErrStoreImage means the upload never made it to storage; nothing else
	// was attempted.
	ErrStoreImage = errors.New("file save failed")
	// ErrClassify means the stored image could not be classified. The stored
	// file is deliberately kept; see the orphaned-file note in DESIGN.md.
	ErrClassify = errors.New("could not process image")
)

// PersistFailedNotice is attached to degraded responses where classification
// succeeded but the record could not be saved.
const PersistFailedNotice = "could not save analysis"

// AnalysisRepository defines the persistence operations needed by the use case.
type AnalysisRepository interface {
	Create(ctx context.Context, record *repository.AnalysisRecord) error
	ListForUser(ctx context.Context, userID string, order repository.Order) ([]repository.AnalysisRecord, error)
	GetForUser(ctx context.Context, userID string, id uint) (*repository.AnalysisRecord, error)
	AggregateForUser(ctx context.Context, userID string) (*repository.UserAggregates, error)
}

// AnalysisResult is the orchestrator's answer to one upload.
type AnalysisResult struct {
	RecordID    uint
	ImageRef    string
	Label       classifier.Label
	Probability float64
	ResultText  string
	// Persisted is false when the classification succeeded but no record
	// was saved; Notice then carries the user-facing explanation.
	Persisted bool
	Notice    string
}

// AnalysisUseCase wires ingest, classification, persistence and reporting.
type AnalysisUseCase struct {
	repo           AnalysisRepository
	cache          Cache
	classifier     classifier.Classifier
	images         imagestore.Store
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedRecord struct {
	ID        uint      `json:"id"`
	Label     int       `json:"label"`
	Score     *float64  `json:"score"`
	ImagePath string    `json:"image_path"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// NewAnalysisUseCase constructs a new use case instance.
func NewAnalysisUseCase(repo AnalysisRepository, cache Cache, cls classifier.Classifier, images imagestore.Store, logger *zap.Logger) *AnalysisUseCase {
	return &AnalysisUseCase{
		repo:           repo,
		cache:          cache,
		classifier:     cls,
		images:         images,
		logger:         logger.Named("analysis_usecase"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Analyze drives one upload through store, classify and persist. Persistence
// failure after a successful classification degrades to an ephemeral result:
// the response still carries the outcome, flagged as unsaved.
func (uc *AnalysisUseCase) Analyze(ctx context.Context, userID, filename string, content io.Reader) (*AnalysisResult, error) {
	opLogger := logging.WithOperation(uc.logger, "usecase.analyze", userID)

	if strings.TrimSpace(filename) == "" {
		return nil, imagestore.ErrNoFile
	}

	ref, err := uc.images.Save(ctx, filename, content)
	if err != nil {
		if errors.Is(err, imagestore.ErrNoFile) {
			return nil, err
		}
		opLogger.Error("image store failed", zap.Error(logging.NewOperationError("usecase.store_image", userID, err)))
		return nil, fmt.Errorf("%w: %w", ErrStoreImage, err)
	}

	outcome, err := uc.classifyStored(ctx, ref)
	if err != nil {
		// The stored file stays behind; cleanup here would hide the
		// failure mode from the operator.
		opLogger.Error("classification failed", zap.Error(logging.NewOperationError("usecase.classify", userID, err)), zap.String("image_ref", ref))
		return nil, fmt.Errorf("%w: %w", ErrClassify, err)
	}

	result := &AnalysisResult{
		ImageRef:    ref,
		Label:       outcome.Label,
		Probability: outcome.Probability,
		ResultText:  fmt.Sprintf("%s (p=%.2f)", outcome.Label, outcome.Probability),
	}

	score := outcome.Probability
	record := &repository.AnalysisRecord{
		Label:     int(outcome.Label),
		Score:     &score,
		ImagePath: ref,
		UserID:    userID,
	}
	if err := uc.repo.Create(ctx, record); err != nil {
		// The inference already happened; discarding it entirely would
		// waste user-visible work. Surface the result unsaved.
		opLogger.Error("failed to persist analysis record", zap.Error(err), zap.String("image_ref", ref))
		result.Notice = PersistFailedNotice
		return result, nil
	}

	result.RecordID = record.ID
	result.Persisted = true

	uc.cacheRecord(ctx, userID, record)
	return result, nil
}

// GetRecord retrieves one record for its owner, preferring the cache.
func (uc *AnalysisUseCase) GetRecord(ctx context.Context, userID string, id uint) (*repository.AnalysisRecord, error) {
	cacheKey := recordCacheKey(userID, id)
	if cached, err := uc.withRedisGet(ctx, userID, "cache.get.record", cacheKey); err == nil {
		var payload cachedRecord
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_record", userID).Warn("failed to decode cached record", zap.Error(err))
		} else {
			return &repository.AnalysisRecord{
				ID:        payload.ID,
				Label:     payload.Label,
				Score:     payload.Score,
				ImagePath: payload.ImagePath,
				UserID:    payload.UserID,
				CreatedAt: payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_record", userID).Warn("failed to read cache", zap.Error(err))
	}

	record, err := uc.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	uc.cacheRecord(ctx, userID, record)
	return record, nil
}

// History lists the caller's records, most recent first.
func (uc *AnalysisUseCase) History(ctx context.Context, userID string) ([]repository.AnalysisRecord, error) {
	return uc.repo.ListForUser(ctx, userID, repository.NewestFirst)
}

// RecordReport renders a single-record PDF, subject to the ownership rule.
func (uc *AnalysisUseCase) RecordReport(ctx context.Context, userID string, id uint) ([]byte, error) {
	record, err := uc.repo.GetForUser(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return report.RenderSingle(record)
}

// HistoryReport renders all of the caller's records oldest first. A user
// without records gets report.ErrEmptyReport.
func (uc *AnalysisUseCase) HistoryReport(ctx context.Context, userID string) ([]byte, error) {
	records, err := uc.repo.ListForUser(ctx, userID, repository.OldestFirst)
	if err != nil {
		return nil, err
	}
	return report.RenderBatch(userID, records)
}

func (uc *AnalysisUseCase) classifyStored(ctx context.Context, ref string) (classifier.Outcome, error) {
	rc, err := uc.images.Open(ctx, ref)
	if err != nil {
		return classifier.Outcome{}, err
	}
	defer rc.Close()
	return uc.classifier.Classify(ctx, rc)
}

// cacheRecord is best effort: the record is already durable, so a cache
// failure only costs the next read a database round trip.
func (uc *AnalysisUseCase) cacheRecord(ctx context.Context, userID string, record *repository.AnalysisRecord) {
	payload := cachedRecord{
		ID:        record.ID,
		Label:     record.Label,
		Score:     record.Score,
		ImagePath: record.ImagePath,
		UserID:    record.UserID,
		CreatedAt: record.CreatedAt,
	}
	serialized, err := json.Marshal(payload)
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_record", userID).Warn("failed to serialize record", zap.Error(err))
		return
	}

	cacheKey := recordCacheKey(userID, record.ID)
	if err := uc.withRedisRetry(ctx, userID, "cache.set.record", func() error {
		return uc.cache.Set(ctx, cacheKey, string(serialized), 5*time.Minute)
	}); err != nil {
		logging.WithOperation(uc.logger, "usecase.cache_record", userID).Warn("failed to cache record", zap.Error(err))
	}
}

func recordCacheKey(userID string, id uint) string {
	// The owner is part of the key so a cached record can never serve a
	// different user's lookup.
	return fmt.Sprintf("analysis:%s:%d", userID, id)
}

func (uc *AnalysisUseCase) withRedisRetry(ctx context.Context, userID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		return logging.NewOperationError(operation, userID, fn())
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, userID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, userID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == uc.retryAttempts-1 {
			return logging.NewOperationError(operation, userID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, userID, err)
}

func (uc *AnalysisUseCase) withRedisGet(ctx context.Context, userID, operation, cacheKey string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, userID, operation, func() error {
		value, err := uc.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
