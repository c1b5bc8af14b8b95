package retrydlq

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DeadLetterOrchestrator exposes the operator-facing dead letter use cases:
// listing, replaying, counting, deleting and purging records. It keeps no
// state of its own.
type DeadLetterOrchestrator struct {
	repository DeadLetterRepository
	registry   *ServiceRegistry
	logger     *zap.Logger
	metrics    MetricsCollector
}

func NewDeadLetterOrchestrator(repository DeadLetterRepository, registry *ServiceRegistry, opts ...Option) *DeadLetterOrchestrator {
	o := newOptions(opts...)

	if registry == nil {
		registry = &ServiceRegistry{services: map[string]RetryableService{}}
	}

	return &DeadLetterOrchestrator{
		repository: repository,
		registry:   registry,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

func (d *DeadLetterOrchestrator) ListByService(ctx context.Context, serviceName string) ([]DeadLetterRecord, error) {
	records, err := d.repository.FindByServiceName(ctx, serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters for %q: %w", serviceName, err)
	}
	if records == nil {
		records = []DeadLetterRecord{}
	}
	return records, nil
}

func (d *DeadLetterOrchestrator) Get(ctx context.Context, id int64) (DeadLetterRecord, error) {
	record, err := d.repository.FindByID(ctx, id)
	if err != nil {
		return DeadLetterRecord{}, fmt.Errorf("dead letter %d: %w", id, err)
	}
	return record, nil
}

// RetryOne replays a single record through the service registered under its
// service name.
func (d *DeadLetterOrchestrator) RetryOne(ctx context.Context, id int64) (ProcessOutcome, error) {
	record, err := d.Get(ctx, id)
	if err != nil {
		return ProcessOutcome{}, err
	}

	service, ok := d.registry.Lookup(record.ServiceName)
	if !ok {
		return ProcessOutcome{}, fmt.Errorf("%w: %q (record %d)", ErrRouteNotFound, record.ServiceName, id)
	}

	outcome := service.Reprocess(ctx, record)

	d.logger.Info("Dead letter retried",
		zap.Int64("record_id", id),
		zap.String("service", record.ServiceName),
		zap.String("outcome", outcome.Kind.String()),
		zap.Int("attempts", outcome.AttemptsUsed))

	return outcome, nil
}

// RetryAll replays every record of serviceName one at a time in storage
// order. A failing record does not stop the remaining ones; outcomes are
// returned in the same order.
func (d *DeadLetterOrchestrator) RetryAll(ctx context.Context, serviceName string) ([]ProcessOutcome, error) {
	start := time.Now()
	defer func() {
		d.metrics.RecordDuration("deadletter.retry_all.duration", time.Since(start), map[string]string{
			"service": serviceName,
		})
	}()

	service, ok := d.registry.Lookup(serviceName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRouteNotFound, serviceName)
	}

	records, err := d.ListByService(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	outcomes := make([]ProcessOutcome, 0, len(records))
	succeeded := 0
	for _, record := range records {
		outcome := service.Reprocess(ctx, record)
		if outcome.IsSucceeded() {
			succeeded++
		}
		outcomes = append(outcomes, outcome)
	}

	d.logger.Info("Dead letters retried",
		zap.String("service", serviceName),
		zap.Int("total", len(records)),
		zap.Int("succeeded", succeeded),
		zap.Int("remaining", len(records)-succeeded))

	d.metrics.RecordGauge("deadletter.retry_all.batch_size", float64(len(records)), map[string]string{
		"service": serviceName,
	})

	return outcomes, nil
}

func (d *DeadLetterOrchestrator) CountByService(ctx context.Context) ([]ServiceNameCount, error) {
	counts, err := d.repository.CountByServiceName(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return counts, nil
}

func (d *DeadLetterOrchestrator) ListServiceNames() []string {
	return d.registry.ServiceNames()
}

func (d *DeadLetterOrchestrator) DeleteOne(ctx context.Context, id int64) error {
	record, err := d.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := d.repository.Delete(ctx, record); err != nil {
		return fmt.Errorf("failed to delete dead letter %d: %w", id, err)
	}

	d.logger.Info("Dead letter deleted",
		zap.Int64("record_id", id),
		zap.String("service", record.ServiceName))

	return nil
}

// Purge deletes every record of serviceName on a best-effort basis. Failed
// deletes are logged and counted but never returned; the result is the number
// of records actually deleted.
func (d *DeadLetterOrchestrator) Purge(ctx context.Context, serviceName string) (int, error) {
	records, err := d.ListByService(ctx, serviceName)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, record := range records {
		if err := d.repository.Delete(ctx, record); err != nil {
			d.logger.Warn("Failed to delete dead letter during purge",
				zap.Int64("record_id", record.ID),
				zap.String("service", serviceName),
				zap.Error(err))
			d.metrics.IncrementCounter("deadletter.purge.delete_failed", map[string]string{
				"service": serviceName,
			})
			continue
		}
		deleted++
	}

	d.logger.Info("Dead letters purged",
		zap.String("service", serviceName),
		zap.Int("deleted", deleted),
		zap.Int("total_found", len(records)))

	d.metrics.RecordGauge("deadletter.purge.deleted", float64(deleted), map[string]string{
		"service": serviceName,
	})

	return deleted, nil
}
