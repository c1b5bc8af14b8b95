package retrydlq

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
)

const unknownErrorMessage = "Unknown error"

// DeadLetterRecord is a payload that exhausted its retry budget.
// ID is zero until the record has been persisted.
type DeadLetterRecord struct {
	ID           int64     `json:"id"`
	ServiceName  string    `json:"service_name"`
	Payload      string    `json:"payload"`
	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	TraceID      string    `json:"trace_id,omitempty"`
	SpanID       string    `json:"span_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

type ServiceNameCount struct {
	Count       int64  `json:"count"`
	ServiceName string `json:"service_name"`
}

func (r DeadLetterRecord) IsPersisted() bool {
	return r.ID > 0
}

// withFailure returns a copy carrying one more attempt and the new error.
// Identity, payload and CreatedAt are kept.
func (r DeadLetterRecord) withFailure(err error) DeadLetterRecord {
	updated := r
	updated.Attempts = r.Attempts + 1
	updated.ErrorMessage = errorMessage(err)
	return updated
}

func newDeadLetterRecord(ctx context.Context, serviceName, payload string, cause error, attempts int, now time.Time) DeadLetterRecord {
	traceID, spanID := extractTraceInfo(ctx)

	return DeadLetterRecord{
		ServiceName:  serviceName,
		Payload:      payload,
		ErrorMessage: errorMessage(cause),
		Attempts:     attempts,
		TraceID:      traceID,
		SpanID:       spanID,
		CreatedAt:    now,
	}
}

func validateRecord(record DeadLetterRecord) error {
	if record.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if record.Attempts < 0 {
		return fmt.Errorf("invalid attempts: %d", record.Attempts)
	}
	return nil
}

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return unknownErrorMessage
	}
	return err.Error()
}

func extractTraceInfo(ctx context.Context) (traceID, spanID string) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		spanID = span.SpanContext().SpanID().String()
	}
	return traceID, spanID
}
