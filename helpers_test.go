package retrydlq

import (
	"context"
	"errors"
	"sync"
	"time"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// recordingRepository wraps a MemoryRepository, records calls and lets tests
// inject errors per operation.
type recordingRepository struct {
	*MemoryRepository

	mu        sync.Mutex
	saved     []DeadLetterRecord
	deleted   []DeadLetterRecord
	saveErr   error
	deleteErr error
	findErr   error
	listErr   error
	countErr  error
	// failDelete selects which records fail to delete when set.
	failDelete func(DeadLetterRecord) bool
}

func newRecordingRepository() *recordingRepository {
	return &recordingRepository{MemoryRepository: NewMemoryRepository()}
}

func (r *recordingRepository) Save(ctx context.Context, record DeadLetterRecord) (DeadLetterRecord, error) {
	r.mu.Lock()
	r.saved = append(r.saved, record)
	err := r.saveErr
	r.mu.Unlock()

	if err != nil {
		return DeadLetterRecord{}, err
	}
	return r.MemoryRepository.Save(ctx, record)
}

func (r *recordingRepository) FindByID(ctx context.Context, id int64) (DeadLetterRecord, error) {
	if r.findErr != nil {
		return DeadLetterRecord{}, r.findErr
	}
	return r.MemoryRepository.FindByID(ctx, id)
}

func (r *recordingRepository) FindByServiceName(ctx context.Context, serviceName string) ([]DeadLetterRecord, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.MemoryRepository.FindByServiceName(ctx, serviceName)
}

func (r *recordingRepository) CountByServiceName(ctx context.Context) ([]ServiceNameCount, error) {
	if r.countErr != nil {
		return nil, r.countErr
	}
	return r.MemoryRepository.CountByServiceName(ctx)
}

func (r *recordingRepository) Delete(ctx context.Context, record DeadLetterRecord) error {
	r.mu.Lock()
	r.deleted = append(r.deleted, record)
	err := r.deleteErr
	if err == nil && r.failDelete != nil && r.failDelete(record) {
		err = errors.New("delete rejected")
	}
	r.mu.Unlock()

	if err != nil {
		return err
	}
	return r.MemoryRepository.Delete(ctx, record)
}

func (r *recordingRepository) Saved() []DeadLetterRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DeadLetterRecord(nil), r.saved...)
}

func (r *recordingRepository) Deleted() []DeadLetterRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DeadLetterRecord(nil), r.deleted...)
}

// seed stores a record bypassing the recorded calls.
func (r *recordingRepository) seed(record DeadLetterRecord) DeadLetterRecord {
	saved, err := r.MemoryRepository.Save(context.Background(), record)
	if err != nil {
		panic(err)
	}
	return saved
}

// scriptedHandler fails with the scripted errors in order and succeeds once
// they run out.
type scriptedHandler struct {
	StringCodec

	name string

	mu       sync.Mutex
	errs     []error
	payloads []string
}

func newScriptedHandler(name string, errs ...error) *scriptedHandler {
	return &scriptedHandler{name: name, errs: errs}
}

func (h *scriptedHandler) ServiceName() string {
	return h.name
}

func (h *scriptedHandler) Process(_ context.Context, payload string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.payloads = append(h.payloads, payload)
	if len(h.errs) == 0 {
		return nil
	}
	err := h.errs[0]
	h.errs = h.errs[1:]
	return err
}

func (h *scriptedHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.payloads)
}

func (h *scriptedHandler) Payloads() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.payloads...)
}

func failures(n int, err error) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = err
	}
	return errs
}

type recordedMetric struct {
	kind string
	name string
	tags map[string]string
}

type recordingMetrics struct {
	mu      sync.Mutex
	entries []recordedMetric
}

func (m *recordingMetrics) IncrementCounter(name string, tags map[string]string) {
	m.record("counter", name, tags)
}

func (m *recordingMetrics) RecordDuration(name string, _ time.Duration, tags map[string]string) {
	m.record("duration", name, tags)
}

func (m *recordingMetrics) RecordGauge(name string, _ float64, tags map[string]string) {
	m.record("gauge", name, tags)
}

func (m *recordingMetrics) record(kind, name string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, recordedMetric{kind: kind, name: name, tags: tags})
}

func (m *recordingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, entry := range m.entries {
		if entry.name == name {
			n++
		}
	}
	return n
}

func mustPolicy(maxAttempts int, retryDelay time.Duration, dlqEnabled bool) RetryPolicy {
	policy, err := NewRetryPolicy(maxAttempts, retryDelay, dlqEnabled)
	if err != nil {
		panic(err)
	}
	return policy
}
