package retrydlq

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BaseWorker runs workFunc every interval until its context is cancelled or
// Stop is called. A worker can be started once.
type BaseWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	workFunc func(ctx context.Context) error

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	stopChan chan struct{}
	doneChan chan struct{}
}

var _ Worker = (*BaseWorker)(nil)

// NewBaseWorker creates a worker. A non-positive interval falls back to the
// default cleanup interval.
func NewBaseWorker(name string, interval time.Duration, logger *zap.Logger, workFunc func(ctx context.Context) error) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}

	return &BaseWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		workFunc: workFunc,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// NewCleanupWorker runs service.Cleanup on the interval set by
// WithCleanupInterval.
func NewCleanupWorker(service CleanupService, opts ...Option) *BaseWorker {
	o := newOptions(opts...)
	return NewBaseWorker("deadletter-cleanup", o.cleanupInterval, o.logger, service.Cleanup)
}

// Start blocks until the worker stops.
func (w *BaseWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("name", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	defer close(w.doneChan)

	w.logger.Info("Starting worker", zap.String("name", w.name), zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Context cancelled, stopping worker", zap.String("name", w.name))
			return
		case <-w.stopChan:
			w.logger.Info("Stop signal received, stopping worker", zap.String("name", w.name))
			return
		case <-ticker.C:
			w.run(ctx)
		}
	}
}

// Stop signals the worker and waits for the running iteration to finish.
// It is safe to call more than once and before Start.
func (w *BaseWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	if !started {
		w.logger.Debug("Worker not started", zap.String("name", w.name))
		return
	}

	<-w.doneChan
	w.logger.Info("Worker stopped", zap.String("name", w.name))
}

func (w *BaseWorker) Name() string {
	return w.name
}

func (w *BaseWorker) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Worker iteration panicked",
				zap.String("name", w.name),
				zap.Any("panic", r))
		}
	}()

	if err := w.workFunc(ctx); err != nil {
		w.logger.Error("Worker execution failed",
			zap.String("name", w.name),
			zap.Error(err))
	}
}
