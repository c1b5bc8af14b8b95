package retrydlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultCleanupBatchSize = 100

// expiredDeleter is implemented by repositories that can drop old records in
// one statement.
type expiredDeleter interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// CleanupServiceImpl removes dead letters older than the retention window.
// Each run deletes at most batchSize records.
type CleanupServiceImpl struct {
	repository DeadLetterRepository
	logger     *zap.Logger
	metrics    MetricsCollector
	clock      Clock
	batchSize  int
	retention  time.Duration
}

var _ CleanupService = (*CleanupServiceImpl)(nil)

func NewCleanupService(repository DeadLetterRepository, batchSize int, opts ...Option) *CleanupServiceImpl {
	o := newOptions(opts...)

	if batchSize <= 0 {
		batchSize = defaultCleanupBatchSize
	}

	return &CleanupServiceImpl{
		repository: repository,
		logger:     o.logger,
		metrics:    o.metrics,
		clock:      o.clock,
		batchSize:  batchSize,
		retention:  o.deadLetterRetention,
	}
}

func (s *CleanupServiceImpl) Cleanup(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("cleanup.duration", time.Since(start), nil)
	}()

	cutoff := s.clock.Now().Add(-s.retention)

	var (
		deleted int64
		err     error
	)
	if deleter, ok := s.repository.(expiredDeleter); ok {
		deleted, err = deleter.DeleteCreatedBefore(ctx, cutoff, s.batchSize)
	} else {
		deleted, err = s.scanAndDelete(ctx, cutoff)
	}

	if err != nil {
		s.logger.Error("Failed to cleanup dead letters",
			zap.Int64("deleted_count", deleted),
			zap.Error(err))
		s.metrics.IncrementCounter("cleanup.executed", map[string]string{"status": "error"})
		return fmt.Errorf("failed to cleanup dead letters: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("Cleaned up old dead letters",
			zap.Int64("deleted_count", deleted),
			zap.Time("cutoff_time", cutoff),
			zap.Duration("retention_period", s.retention))
	}

	s.metrics.IncrementCounter("cleanup.executed", map[string]string{"status": "success"})
	s.metrics.RecordGauge("cleanup.deadletters_cleaned", float64(deleted), nil)

	return nil
}

// scanAndDelete is the fallback for repositories without bulk deletion.
func (s *CleanupServiceImpl) scanAndDelete(ctx context.Context, cutoff time.Time) (int64, error) {
	counts, err := s.repository.CountByServiceName(ctx)
	if err != nil {
		return 0, err
	}

	var (
		deleted int64
		errs    []error
	)
	for _, count := range counts {
		records, err := s.repository.FindByServiceName(ctx, count.ServiceName)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, record := range records {
			if deleted >= int64(s.batchSize) {
				return deleted, errors.Join(errs...)
			}
			if !record.CreatedAt.Before(cutoff) {
				continue
			}
			if err := s.repository.Delete(ctx, record); err != nil {
				errs = append(errs, err)
				continue
			}
			deleted++
		}
	}

	return deleted, errors.Join(errs...)
}
