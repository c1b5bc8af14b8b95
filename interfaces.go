package retrydlq

import (
	"context"
	"time"
)

// DeadLetterRepository is the storage collaborator. Save is an upsert keyed
// by ID, FindByID returns ErrRecordNotFound for unknown ids and Delete is
// idempotent.
type DeadLetterRepository interface {
	Save(ctx context.Context, record DeadLetterRecord) (DeadLetterRecord, error)
	FindByID(ctx context.Context, id int64) (DeadLetterRecord, error)
	FindByServiceName(ctx context.Context, serviceName string) ([]DeadLetterRecord, error)
	CountByServiceName(ctx context.Context) ([]ServiceNameCount, error)
	Delete(ctx context.Context, record DeadLetterRecord) error
}

// RetryableService is the payload-agnostic view of a Service used for routing
// dead letter records back to their producer.
type RetryableService interface {
	ServiceName() string
	Reprocess(ctx context.Context, record DeadLetterRecord) ProcessOutcome
}

type CleanupService interface {
	Cleanup(ctx context.Context) error
}

type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}
