package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"bonus_system/pkg/logger"

	"go.uber.org/zap"
)

// MemoryQueue keeps jobs in process. Pending jobs are lost on restart.
// The pending list is unbounded and Enqueue never blocks, including when
// called from a handler.
type MemoryQueue struct {
	dispatcher
	cfg     Config
	mu      sync.Mutex
	pending []*Job
	closed  bool
	wake    chan struct{}
	quit    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	waiting   atomic.Int64
	active    atomic.Int64
	delayed   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

func NewMemoryQueue(cfg Config) *MemoryQueue {
	cfg = cfg.withDefaults()
	return &MemoryQueue{
		cfg:     cfg,
		pending: make([]*Job, 0, cfg.BufferSize),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobType string, payload any, opts ...Option) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	job, o, err := newJob(q.cfg, jobType, payload, opts)
	if err != nil {
		return "", err
	}

	if o.Delay > 0 {
		if q.isClosed() {
			return "", ErrClosed
		}
		q.schedule(job, o.Delay)
		return job.ID, nil
	}

	if err := q.push(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (q *MemoryQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *MemoryQueue) push(job *Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.pending = append(q.pending, job)
	q.waiting.Add(1)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop takes the oldest pending job and wakes another worker when more remain.
func (q *MemoryQueue) pop() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.waiting.Add(-1)

	if len(q.pending) > 0 {
		q.signal()
	}
	return job
}

func (q *MemoryQueue) schedule(job *Job, delay time.Duration) {
	q.delayed.Add(1)
	time.AfterFunc(delay, func() {
		q.delayed.Add(-1)
		if err := q.push(job); err != nil {
			logger.Logger().Warn("dropping delayed job", zap.String("job_id", job.ID), zap.Error(err))
		}
	})
}

// Start launches the workers. They stop when ctx is cancelled or Close is called.
func (q *MemoryQueue) Start(ctx context.Context) error {
	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	logger.Logger().Info("memory queue started", zap.Int("workers", q.cfg.Workers))
	return nil
}

func (q *MemoryQueue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.quit:
			return
		default:
		}

		job := q.pop()
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-q.quit:
				return
			case <-q.wake:
			}
			continue
		}

		q.active.Add(1)
		retry, delay, failed := q.process(ctx, job)
		q.active.Add(-1)

		switch {
		case retry:
			q.schedule(job, delay)
		case failed:
			q.failed.Add(1)
		default:
			q.completed.Add(1)
		}
	}
}

func (q *MemoryQueue) Stats(context.Context) (Stats, error) {
	return Stats{
		Waiting:   q.waiting.Load(),
		Active:    q.active.Load(),
		Delayed:   q.delayed.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
	}, nil
}

func (q *MemoryQueue) Close() error {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.quit)
	})
	q.wg.Wait()
	return nil
}
