package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// task is one outbound delivery
type task struct {
	peer string
	fn   func(context.Context) error
}

// DispatcherStats is a snapshot of dispatcher counters
type DispatcherStats struct {
	Workers   int
	QueueSize int
	Queued    int
	Delivered uint64
	Failed    uint64
	Dropped   uint64
}

// dispatcher delivers outbound messages on a fixed set of workers so that a
// slow peer never blocks event creation. When the queue is full the message
// is dropped; peers catch up through the periodic sync sweep.
type dispatcher struct {
	tasks    chan task
	workers  int
	timeout  time.Duration
	logger   *zap.Logger
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}

	delivered uint64
	failed    uint64
	dropped   uint64
}

func newDispatcher(workers, queueSize int, timeout time.Duration, logger *zap.Logger) *dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	d := &dispatcher{
		tasks:   make(chan task, queueSize),
		workers: workers,
		timeout: timeout,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	return d
}

func (d *dispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			return
		case t := <-d.tasks:
			d.run(id, t)
		}
	}
}

func (d *dispatcher) run(workerID int, t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := d.safeRun(ctx, t)
	if err != nil {
		atomic.AddUint64(&d.failed, 1)
		d.logger.Warn("Failed to deliver event to peer",
			zap.Int("worker_id", workerID),
			zap.String("peer", t.peer),
			zap.Error(err))
		return
	}
	atomic.AddUint64(&d.delivered, 1)
}

func (d *dispatcher) safeRun(ctx context.Context, t task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panicked: %v", r)
		}
	}()
	return t.fn(ctx)
}

// trySubmit queues t without blocking
func (d *dispatcher) trySubmit(t task) bool {
	select {
	case <-d.stopCh:
		atomic.AddUint64(&d.dropped, 1)
		return false
	default:
	}

	select {
	case d.tasks <- t:
		return true
	default:
		atomic.AddUint64(&d.dropped, 1)
		return false
	}
}

// stop waits up to timeout for in-flight deliveries. Queued ones are dropped.
func (d *dispatcher) stop(timeout time.Duration) error {
	var err error
	d.stopOnce.Do(func() {
		close(d.stopCh)

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(timeout):
			err = fmt.Errorf("dispatcher stop timeout after %v", timeout)
		}
	})
	return err
}

func (d *dispatcher) stats() DispatcherStats {
	return DispatcherStats{
		Workers:   d.workers,
		QueueSize: cap(d.tasks),
		Queued:    len(d.tasks),
		Delivered: atomic.LoadUint64(&d.delivered),
		Failed:    atomic.LoadUint64(&d.failed),
		Dropped:   atomic.LoadUint64(&d.dropped),
	}
}
