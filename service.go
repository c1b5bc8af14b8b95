package retrydlq

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Handler is implemented once per payload type. ServiceName must be unique in
// a registry and stable across deployments: stored records reference it.
type Handler[T any] interface {
	Codec[T]
	ServiceName() string
	Process(ctx context.Context, payload T) error
}

// Service runs a Handler with fixed-delay retries and hands exhausted
// payloads to the dead letter repository.
type Service[T any] struct {
	name       string
	handler    Handler[T]
	policy     RetryPolicy
	repository DeadLetterRepository
	logger     *zap.Logger
	metrics    MetricsCollector
	clock      Clock
	tracer     trace.Tracer
}

var _ RetryableService = (*Service[string])(nil)

func NewService[T any](handler Handler[T], policy RetryPolicy, repository DeadLetterRepository, opts ...Option) (*Service[T], error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: handler is required", ErrInvalidConfiguration)
	}
	if repository == nil {
		return nil, fmt.Errorf("%w: repository is required", ErrInvalidConfiguration)
	}
	if !policy.valid() {
		return nil, fmt.Errorf("%w: retry policy must be built with NewRetryPolicy", ErrInvalidConfiguration)
	}

	name := handler.ServiceName()
	if name == "" {
		name = handlerTypeName(handler)
	}

	o := newOptions(opts...)

	return &Service[T]{
		name:       name,
		handler:    handler,
		policy:     policy,
		repository: repository,
		logger:     o.logger.With(zap.String("service", name)),
		metrics:    o.metrics,
		clock:      o.clock,
		tracer:     o.tracer,
	}, nil
}

func (s *Service[T]) ServiceName() string {
	return s.name
}

func (s *Service[T]) Policy() RetryPolicy {
	return s.policy
}

// ProcessWithRetry attempts the payload up to MaxAttempts times, sleeping
// RetryDelay between attempts. It never returns an error: every failure is
// folded into the outcome.
func (s *Service[T]) ProcessWithRetry(ctx context.Context, payload T) ProcessOutcome {
	ctx, span := s.tracer.Start(ctx, "retrydlq.process_with_retry",
		trace.WithAttributes(attribute.String("retrydlq.service", s.name)))
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.RecordDuration("retryable.duration", time.Since(start), s.tags(nil))
	}()

	maxAttempts := s.policy.MaxAttempts()
	delays := s.policy.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.logger.Debug("Processing payload",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts))

		lastErr = s.attempt(ctx, payload)
		if lastErr == nil {
			s.logger.Debug("Payload processed successfully", zap.Int("attempts", attempt))
			return s.finish(span, "retryable.processed", Succeeded(attempt))
		}

		s.metrics.IncrementCounter("retryable.attempt_failed", s.tags(nil))

		if attempt == maxAttempts {
			break
		}

		delay := delays.NextBackOff()
		if delay == backoff.Stop {
			delay = s.policy.RetryDelay()
		}

		s.logger.Warn("Processing failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(lastErr))

		if err := s.clock.Sleep(ctx, delay); err != nil {
			s.logger.Warn("Retry delay interrupted",
				zap.Int("attempt", attempt),
				zap.Bool("dlq_enabled", s.policy.DLQEnabled()),
				zap.Error(err))
			if !s.policy.DLQEnabled() {
				cause := fmt.Errorf("retry delay interrupted after attempt %d: %w", attempt, errors.Join(err, lastErr))
				return s.finish(span, "retryable.processed", Failed(attempt, cause))
			}
			// the payload still has to reach storage after the caller gave up
			return s.finish(span, "retryable.processed", s.sendToDeadLetter(context.WithoutCancel(ctx), payload, lastErr, attempt))
		}
	}

	s.logger.Error("All retries exhausted",
		zap.Int("attempts", maxAttempts),
		zap.Bool("dlq_enabled", s.policy.DLQEnabled()),
		zap.Error(lastErr))

	if !s.policy.DLQEnabled() {
		return s.finish(span, "retryable.processed", Failed(maxAttempts, lastErr))
	}

	return s.finish(span, "retryable.processed", s.sendToDeadLetter(ctx, payload, lastErr, maxAttempts))
}

// Reprocess makes a single attempt on a stored record. On success the record
// is deleted; on failure, or when the delete fails, it is saved back with its
// attempt counter bumped by one.
func (s *Service[T]) Reprocess(ctx context.Context, record DeadLetterRecord) ProcessOutcome {
	ctx, span := s.tracer.Start(ctx, "retrydlq.reprocess",
		trace.WithAttributes(
			attribute.String("retrydlq.service", s.name),
			attribute.Int64("retrydlq.record_id", record.ID),
		))
	defer span.End()

	recordFields := []zap.Field{
		zap.Int64("record_id", record.ID),
		zap.Int("attempt", record.Attempts+1),
	}

	s.logger.Debug("Reprocessing dead letter record", recordFields...)

	payload, err := s.deserialize(record.Payload)
	if err == nil {
		err = s.attempt(ctx, payload)
	}

	if err != nil {
		s.logger.Warn("Reprocessing failed", append(recordFields, zap.Error(err))...)
		return s.finish(span, "retryable.reprocessed", s.saveRecord(ctx, record.withFailure(err)))
	}

	if err := s.repository.Delete(ctx, record); err != nil {
		s.logger.Error("Failed to delete reprocessed dead letter record",
			append(recordFields, zap.Error(err))...)
		s.metrics.IncrementCounter("deadletter.delete_failed", s.tags(map[string]string{
			"operation": "reprocess",
		}))
		return s.finish(span, "retryable.reprocessed", s.saveRecord(ctx, record.withFailure(err)))
	}

	s.logger.Info("Dead letter record reprocessed successfully", recordFields...)

	return s.finish(span, "retryable.reprocessed", Succeeded(record.Attempts+1))
}

func (s *Service[T]) sendToDeadLetter(ctx context.Context, payload T, cause error, attempts int) ProcessOutcome {
	data, err := s.serialize(payload)
	if err != nil {
		s.logger.Error("Failed to serialize payload for dead letter queue", zap.Error(err))
		return Failed(attempts, fmt.Errorf("failed to serialize payload: %w", err))
	}

	record := newDeadLetterRecord(ctx, s.name, data, cause, attempts, s.clock.Now())

	return s.saveRecord(ctx, record)
}

func (s *Service[T]) saveRecord(ctx context.Context, record DeadLetterRecord) ProcessOutcome {
	saved, err := s.repository.Save(ctx, record)
	if err != nil {
		s.logger.Error("Failed to save to dead letter queue",
			zap.Int64("record_id", record.ID),
			zap.Int("attempts", record.Attempts),
			zap.Error(err))
		s.metrics.IncrementCounter("deadletter.save_failed", s.tags(nil))
		return Failed(record.Attempts, fmt.Errorf("failed to save dead letter record: %w", err))
	}

	s.logger.Info("Payload sent to dead letter queue",
		zap.Int64("record_id", saved.ID),
		zap.Int("attempts", record.Attempts),
		zap.String("error_message", record.ErrorMessage))

	return SentToDeadLetter(record.Attempts)
}

func (s *Service[T]) attempt(ctx context.Context, payload T) (err error) {
	defer recoverPanic(&err)
	return s.handler.Process(ctx, payload)
}

func (s *Service[T]) serialize(payload T) (data string, err error) {
	defer recoverPanic(&err)
	return s.handler.Serialize(payload)
}

func (s *Service[T]) deserialize(data string) (payload T, err error) {
	defer recoverPanic(&err)
	payload, err = s.handler.Deserialize(data)
	if err != nil {
		return payload, fmt.Errorf("failed to deserialize payload: %w", err)
	}
	return payload, nil
}

func (s *Service[T]) finish(span trace.Span, metricName string, outcome ProcessOutcome) ProcessOutcome {
	span.SetAttributes(
		attribute.String("retrydlq.outcome", outcome.Kind.String()),
		attribute.Int("retrydlq.attempts", outcome.AttemptsUsed),
	)
	if outcome.IsFailed() {
		span.RecordError(outcome.Cause)
		span.SetStatus(codes.Error, errorMessage(outcome.Cause))
	}

	s.metrics.IncrementCounter(metricName, s.tags(map[string]string{
		"status": outcome.Kind.String(),
	}))

	return outcome
}

func (s *Service[T]) tags(extra map[string]string) map[string]string {
	tags := map[string]string{"service": s.name}
	for k, v := range extra {
		tags[k] = v
	}
	return tags
}

func recoverPanic(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic: %v", r)
	}
}

func handlerTypeName(handler any) string {
	t := reflect.TypeOf(handler)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Name()
}
