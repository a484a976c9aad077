package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SerialWriter runs fire-and-forget writes. Writes submitted under the same
// key run one at a time in submission order; different keys run
// concurrently. Failures are logged, never returned to the submitter.
type SerialWriter struct {
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	queues map[string][]write
	wg     sync.WaitGroup
}

type write struct {
	name string
	fn   func(ctx context.Context) error
}

func NewSerialWriter(logger *slog.Logger) *SerialWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SerialWriter{logger: logger, timeout: 30 * time.Second, queues: make(map[string][]write)}
}

// Submit queues fn under key. name is used in logs.
func (w *SerialWriter) Submit(key, name string, fn func(ctx context.Context) error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	q, busy := w.queues[key]
	w.queues[key] = append(q, write{name: name, fn: fn})
	if busy {
		return
	}
	w.wg.Add(1)
	go w.drain(key)
}

func (w *SerialWriter) drain(key string) {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		q := w.queues[key]
		if len(q) == 0 {
			delete(w.queues, key)
			w.mu.Unlock()
			return
		}
		next := q[0]
		w.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
		start := time.Now()
		err := next.fn(ctx)
		cancel()
		if err != nil {
			w.logger.Error("background write failed", "key", key, "write", next.name, "duration", time.Since(start), "error", err)
		} else {
			w.logger.Debug("background write done", "key", key, "write", next.name, "duration", time.Since(start))
		}

		w.mu.Lock()
		w.queues[key] = w.queues[key][1:]
		w.mu.Unlock()
	}
}

// Wait blocks until every queued write has run or ctx is done.
func (w *SerialWriter) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
