package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// LimiterMetrics tracks limiter operational metrics.
type LimiterMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrLimiterShutdown is returned when work is submitted to a shut-down limiter.
var ErrLimiterShutdown = errors.New("limiter is shut down")

// Limiter bounds the number of concurrently executing nodes. Unlike a fixed
// semaphore its limit can change while work is in flight: raising it wakes
// waiters immediately, lowering it lets running work drain below the new bound.
type Limiter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	limit  int
	active int
	closed bool
	wg     sync.WaitGroup

	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewLimiter creates a limiter with the given max concurrency.
func NewLimiter(limit int) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	l := &Limiter{limit: limit}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// SetLimit changes the max concurrency. Values below 1 are clamped to 1.
func (l *Limiter) SetLimit(limit int) {
	if limit <= 0 {
		limit = 1
	}
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
	l.cond.Broadcast()
}

// Limit returns the current max concurrency.
func (l *Limiter) Limit() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// Go runs fn in a new goroutine once a slot is free. It blocks while the
// limiter is at capacity (backpressure) and respects context cancellation
// while waiting. Returns ErrLimiterShutdown if the limiter has been shut down.
func (l *Limiter) Go(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	l.Spawn(ctx, fn)
	return nil
}

// Acquire reserves a slot, blocking like Go does. The caller owns the slot
// and must hand it to Spawn or give it back with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	// Wake the wait loop when ctx ends so cancellation is observed.
	stop := context.AfterFunc(ctx, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer stop()

	l.mu.Lock()
	defer l.mu.Unlock()

	for !l.closed && ctx.Err() == nil && l.active >= l.limit {
		l.cond.Wait()
	}
	if l.closed {
		return ErrLimiterShutdown
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.active++
	// Inside the lock so Shutdown's wg.Wait never races a new Add.
	l.wg.Add(1)
	return nil
}

// Release returns a slot taken with Acquire that was never spawned.
func (l *Limiter) Release() {
	l.release()
	l.wg.Done()
}

// Spawn runs fn on a slot already taken with Acquire and frees the slot
// when fn returns.
func (l *Limiter) Spawn(ctx context.Context, fn func(ctx context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.panics.Add(1)
				l.failed.Add(1)
			}
			l.release()
			l.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			l.failed.Add(1)
		} else {
			l.completed.Add(1)
		}
	}()
}

func (l *Limiter) release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()
	l.cond.Broadcast()
}

// Wait blocks until all started work completes.
func (l *Limiter) Wait() {
	l.wg.Wait()
}

// Shutdown prevents new work, wakes blocked callers and waits for running
// work to complete.
func (l *Limiter) Shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()

	l.wg.Wait()
}

// Metrics returns a snapshot of the current limiter metrics.
func (l *Limiter) Metrics() LimiterMetrics {
	l.mu.Lock()
	active := l.active
	l.mu.Unlock()
	return LimiterMetrics{
		Active:    int64(active),
		Completed: l.completed.Load(),
		Failed:    l.failed.Load(),
		Panics:    l.panics.Load(),
	}
}
