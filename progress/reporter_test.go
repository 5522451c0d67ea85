package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestHighest(t *testing.T) {
	assert.Equal(t, float64(0), Highest(nil))
	assert.Equal(t, float64(0), Highest([]orchestrator.TaskStats{{Created: 10}}), "unknown totals count as zero")

	got := Highest([]orchestrator.TaskStats{
		{Created: 10, Total: 100},
		{Created: 30, Updated: 10, Deleted: 5, VersionConflicts: 5, Total: 100},
		{Created: 1, Total: 4},
	})
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestNew_AppliesDefaults(t *testing.T) {
	r := New(Config{})

	assert.Equal(t, 5*time.Minute, r.config.Interval)
	assert.NotNil(t, r.config.Now)
}

func TestObserve_FillsElapsed(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	r := New(Config{Now: clock.Now})

	clock.Advance(90 * time.Second)
	r.Observe(Snapshot{Completed: 2, Total: 7, InFlight: 5})

	got := r.Latest()
	assert.Equal(t, 90*time.Second, got.Elapsed)
	assert.Equal(t, 2, got.Completed)
	assert.Equal(t, got, r.Status())
}

func TestMaybeEmit_RespectsInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	logger := logging.NewRecorder()
	r := New(Config{Interval: 5 * time.Minute, Logger: logger, Now: clock.Now})
	ctx := context.Background()

	r.Observe(Snapshot{Completed: 1, Total: 4, HighestProgress: 0.42, Failed: 1, Retries: 2})
	assert.False(t, r.MaybeEmit(ctx))

	clock.Advance(5 * time.Minute)
	assert.False(t, r.MaybeEmit(ctx), "exactly one interval is not enough")

	clock.Advance(time.Second)
	assert.True(t, r.MaybeEmit(ctx))
	assert.False(t, r.MaybeEmit(ctx))

	lines := logger.Messages("STATUS")
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Value("completed"))
	assert.Equal(t, 4, lines[0].Value("total"))
	assert.InDelta(t, 42.0, lines[0].Value("progress"), 1e-9)
	assert.Equal(t, 2, lines[0].Value("retries"))

	clock.Advance(6 * time.Minute)
	assert.True(t, r.MaybeEmit(ctx))
	assert.Len(t, logger.Messages("STATUS"), 2)
}

func TestMaybeEmit_NilLogger(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := New(Config{Interval: time.Second, Now: clock.Now})

	clock.Advance(2 * time.Second)
	assert.True(t, r.MaybeEmit(context.Background()))
}

func TestRestart_ResetsClock(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	r := New(Config{Interval: time.Minute, Now: clock.Now})

	clock.Advance(time.Hour)
	r.Observe(Snapshot{Completed: 3})
	r.Restart()

	assert.Equal(t, Snapshot{}, r.Latest())
	assert.False(t, r.MaybeEmit(context.Background()))

	r.Observe(Snapshot{})
	assert.Equal(t, time.Duration(0), r.Latest().Elapsed)
}

func TestReporter_ConcurrentReaders(t *testing.T) {
	r := New(Config{})
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r.Observe(Snapshot{Completed: i})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_ = r.Latest()
		}
	}()
	wg.Wait()

	assert.Equal(t, 99, r.Latest().Completed)
}
