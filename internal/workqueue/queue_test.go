package workqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rzbill/cruise/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (r *recorder) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[key]
}

func (r *recorder) record(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = map[string]int{}
	}
	r.calls[key]++
	return r.calls[key]
}

func startQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	opts.Logger = log.NewTestLogger()
	q := New(opts)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestQueue_ProcessesKeys(t *testing.T) {
	rec := &recorder{}
	q := startQueue(t, Options{Process: func(_ context.Context, key string) error {
		rec.record(key)
		return nil
	}})

	q.Add("a")
	q.Add("b")

	assert.Eventually(t, func() bool { return rec.count("a") == 1 && rec.count("b") == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return q.Stats().Processed == 2 }, time.Second, 5*time.Millisecond)
}

func TestQueue_DeduplicatesWaitingKeys(t *testing.T) {
	q := New(Options{Logger: log.NewTestLogger(), Process: func(context.Context, string) error { return nil }})
	q.Add("a")
	q.Add("a")
	q.Add("b")
	assert.Equal(t, 2, q.Len())
}

func TestQueue_ReprocessesKeyAddedWhileRunning(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{})
	release := make(chan struct{})
	q := startQueue(t, Options{Workers: 1, Process: func(_ context.Context, key string) error {
		if rec.record(key) == 1 {
			close(started)
			<-release
		}
		return nil
	}})

	q.Add("repo")
	<-started
	q.Add("repo")
	q.Add("repo")
	close(release)

	assert.Eventually(t, func() bool { return rec.count("repo") == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, rec.count("repo"))
}

func TestQueue_RetriesFailuresWithBackoff(t *testing.T) {
	rec := &recorder{}
	limiter := NewExponentialBackoff(time.Millisecond, 10*time.Millisecond)
	q := startQueue(t, Options{RateLimiter: limiter, Process: func(_ context.Context, key string) error {
		if rec.record(key) < 3 {
			return errors.New("fetch failed")
		}
		return nil
	}})

	q.Add("repo")

	assert.Eventually(t, func() bool { return rec.count("repo") == 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return limiter.NumRequeues("repo") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, q.Stats().Errors)
}

func TestQueue_Timeout(t *testing.T) {
	deadline := make(chan bool, 1)
	q := startQueue(t, Options{Timeout: time.Minute, Process: func(ctx context.Context, _ string) error {
		_, ok := ctx.Deadline()
		deadline <- ok
		return nil
	}})
	q.Add("a")
	select {
	case ok := <-deadline:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("key was not processed")
	}
}

func TestQueue_StopDropsPendingWork(t *testing.T) {
	rec := &recorder{}
	q := New(Options{Logger: log.NewTestLogger(), Process: func(_ context.Context, key string) error {
		rec.record(key)
		return nil
	}})
	q.Start(context.Background())
	q.AddAfter("later", time.Hour)
	q.Stop()
	q.Stop()

	q.Add("after-stop")
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, rec.count("after-stop"))
}

func TestExponentialBackoff(t *testing.T) {
	b := NewExponentialBackoff(time.Second, 5*time.Second)
	got := []time.Duration{b.When("k"), b.When("k"), b.When("k"), b.When("k"), b.When("k")}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, got)
	require.Equal(t, 5, b.NumRequeues("k"))
	b.Forget("k")
	assert.Equal(t, time.Second, b.When("k"))
}

func TestMax(t *testing.T) {
	m := Max{NewExponentialBackoff(time.Second, time.Minute), NewExponentialBackoff(3*time.Second, time.Minute)}
	assert.Equal(t, 3*time.Second, m.When("k"))
	assert.Equal(t, 1, m.NumRequeues("k"))
	m.Forget("k")
	assert.Equal(t, 0, m.NumRequeues("k"))
}
