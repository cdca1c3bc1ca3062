// Package workqueue runs keyed work on a fixed set of workers. A key is
// queued at most once; a key added while it is being processed runs again
// once the current pass finishes. Failed keys are retried with backoff.
package workqueue

import (
	"context"
	"sync"
	"time"

	"github.com/rzbill/cruise/pkg/log"
)

// DefaultWorkers is used when Options.Workers is not positive.
const DefaultWorkers = 2

// Options configure a Queue.
type Options struct {
	// Name appears in logs.
	Name string

	Workers int

	// Process handles one key. A non-nil error requeues the key with
	// backoff.
	Process func(ctx context.Context, key string) error

	// Timeout bounds one Process call. Zero means no timeout.
	Timeout time.Duration

	RateLimiter RateLimiter
	Logger      log.Logger
}

// Stats are counters of processed keys.
type Stats struct {
	Processed     int
	Errors        int
	LastProcessed time.Time
}

// Queue is a deduplicating work queue.
type Queue struct {
	name    string
	workers int
	process func(ctx context.Context, key string) error
	timeout time.Duration
	limiter RateLimiter
	logger  log.Logger

	mu         sync.Mutex
	cond       *sync.Cond
	items      []string
	queued     map[string]bool
	processing map[string]bool
	dirty      map[string]bool
	timers     map[string]*time.Timer
	shutdown   bool
	stats      Stats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New returns a stopped queue.
func New(opts Options) *Queue {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.RateLimiter == nil {
		opts.RateLimiter = DefaultRateLimiter()
	}
	if opts.Logger == nil {
		opts.Logger = log.GetDefaultLogger()
	}
	q := &Queue{
		name:       opts.Name,
		workers:    opts.Workers,
		process:    opts.Process,
		timeout:    opts.Timeout,
		limiter:    opts.RateLimiter,
		logger:     opts.Logger.WithComponent("workqueue").With(log.Str("queue", opts.Name)),
		queued:     map[string]bool{},
		processing: map[string]bool{},
		dirty:      map[string]bool{},
		timers:     map[string]*time.Timer{},
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.logger.Debug("Starting work queue", log.Int("workers", q.workers))
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for q.processNext() {
			}
		}()
	}
	go func() {
		<-q.ctx.Done()
		q.shutDown()
	}()
}

// Stop shuts the queue down and waits for running keys to finish.
func (q *Queue) Stop() {
	q.once.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		q.shutDown()
		q.wg.Wait()
		q.logger.Debug("Work queue stopped")
	})
}

func (q *Queue) shutDown() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return
	}
	q.shutdown = true
	for key, t := range q.timers {
		t.Stop()
		delete(q.timers, key)
	}
	q.items = nil
	q.cond.Broadcast()
}

// Add queues key unless it is already waiting.
func (q *Queue) Add(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.addLocked(key)
}

func (q *Queue) addLocked(key string) {
	if q.shutdown || q.queued[key] {
		return
	}
	if q.processing[key] {
		q.dirty[key] = true
		return
	}
	q.queued[key] = true
	q.items = append(q.items, key)
	q.cond.Signal()
}

// AddAfter queues key once delay has passed. A pending delayed add of the
// same key is replaced.
func (q *Queue) AddAfter(key string, delay time.Duration) {
	if delay <= 0 {
		q.Add(key)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shutdown {
		return
	}
	if t, ok := q.timers[key]; ok {
		t.Stop()
	}
	q.timers[key] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, key)
		q.addLocked(key)
	})
}

// AddRateLimited queues key after the delay chosen by the rate limiter.
func (q *Queue) AddRateLimited(key string) {
	q.AddAfter(key, q.limiter.When(key))
}

// Forget resets the backoff of key.
func (q *Queue) Forget(key string) { q.limiter.Forget(key) }

// Len returns the number of waiting keys.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats returns a copy of the counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

func (q *Queue) get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.shutdown {
		q.cond.Wait()
	}
	if q.shutdown {
		return "", false
	}
	key := q.items[0]
	q.items = q.items[1:]
	delete(q.queued, key)
	q.processing[key] = true
	return key, true
}

func (q *Queue) done(key string, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.processing, key)
	q.stats.Processed++
	q.stats.LastProcessed = time.Now()
	if err != nil {
		q.stats.Errors++
	}
	if q.dirty[key] {
		delete(q.dirty, key)
		q.addLocked(key)
	}
}

func (q *Queue) processNext() bool {
	key, ok := q.get()
	if !ok {
		return false
	}

	ctx := q.ctx
	var cancel context.CancelFunc = func() {}
	if q.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
	}
	start := time.Now()
	err := q.process(ctx, key)
	cancel()
	q.done(key, err)

	if err != nil {
		q.logger.Error("Failed to process key, requeuing",
			log.Str("key", key),
			log.Int("requeues", q.limiter.NumRequeues(key)),
			log.Duration("duration", time.Since(start)),
			log.Err(err))
		q.AddRateLimited(key)
		return true
	}
	q.limiter.Forget(key)
	q.logger.Debug("Processed key", log.Str("key", key), log.Duration("duration", time.Since(start)))
	return true
}
