package retrydlq

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository keeps dead letters in process memory. It is meant for
// tests and single-process deployments; records are lost on restart.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[int64]DeadLetterRecord
	nextID  int64
	now     func() time.Time
}

var _ DeadLetterRepository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		records: make(map[int64]DeadLetterRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Save(ctx context.Context, record DeadLetterRecord) (DeadLetterRecord, error) {
	if err := ctx.Err(); err != nil {
		return DeadLetterRecord{}, err
	}
	if err := validateRecord(record); err != nil {
		return DeadLetterRecord{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now()
	}

	if !record.IsPersisted() {
		r.nextID++
		record.ID = r.nextID
	} else if record.ID > r.nextID {
		r.nextID = record.ID
	}

	r.records[record.ID] = record

	return record, nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id int64) (DeadLetterRecord, error) {
	if err := ctx.Err(); err != nil {
		return DeadLetterRecord{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[id]
	if !ok {
		return DeadLetterRecord{}, ErrRecordNotFound
	}
	return record, nil
}

func (r *MemoryRepository) FindByServiceName(ctx context.Context, serviceName string) ([]DeadLetterRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	records := []DeadLetterRecord{}
	for _, record := range r.records {
		if record.ServiceName == serviceName {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	return records, nil
}

func (r *MemoryRepository) CountByServiceName(ctx context.Context) ([]ServiceNameCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	byName := make(map[string]int64)
	for _, record := range r.records {
		byName[record.ServiceName]++
	}
	r.mu.RUnlock()

	counts := make([]ServiceNameCount, 0, len(byName))
	for name, count := range byName {
		counts = append(counts, ServiceNameCount{Count: count, ServiceName: name})
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].ServiceName < counts[j].ServiceName })

	return counts, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, record DeadLetterRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.records, record.ID)
	r.mu.Unlock()

	return nil
}

func (r *MemoryRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]int64, 0)
	for id, record := range r.records {
		if record.CreatedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })

	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, id := range expired {
		delete(r.records, id)
	}

	return int64(len(expired)), nil
}

// Len reports how many records are stored.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
