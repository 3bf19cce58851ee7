package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter() *Limiter {
	return New(Config{
		PerUser:   10,
		PerTenant: 100,
		PerIP:     50,
		Window:    time.Minute,
	})
}

func TestCheck(t *testing.T) {
	t.Run("should allow first request", func(t *testing.T) {
		l := newTestLimiter()

		res := l.Check("test-key", 10)

		assert.True(t, res.Allowed)
		assert.Equal(t, 9, res.Remaining)
		assert.False(t, res.ResetAt.IsZero())
	})

	t.Run("should deny once limit is reached", func(t *testing.T) {
		l := newTestLimiter()
		limit := 5

		for i := 0; i < limit; i++ {
			res := l.Check("test-key", limit)
			assert.True(t, res.Allowed)
			assert.Equal(t, limit-(i+1), res.Remaining)
		}

		res := l.Check("test-key", limit)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
	})

	t.Run("denied requests should not advance the counter", func(t *testing.T) {
		l := newTestLimiter()
		limit := 3

		for i := 0; i < limit; i++ {
			l.Check("k", limit)
		}
		for i := 0; i < 10; i++ {
			res := l.Check("k", limit)
			assert.False(t, res.Allowed)
		}

		status, ok := l.Status("k")
		require.True(t, ok)
		assert.Equal(t, limit, status.Usage)
	})

	t.Run("should reset after window expires", func(t *testing.T) {
		l := newTestLimiter()
		limit := 2

		base := time.Now()
		l.now = func() time.Time { return base }

		l.Check("k", limit)
		l.Check("k", limit)
		assert.False(t, l.Check("k", limit).Allowed)

		l.now = func() time.Time { return base.Add(61 * time.Second) }

		res := l.Check("k", limit)
		assert.True(t, res.Allowed)
		assert.Equal(t, limit-1, res.Remaining)
	})

	t.Run("reset_at should be window start plus window", func(t *testing.T) {
		l := newTestLimiter()

		base := time.Now()
		l.now = func() time.Time { return base }

		res := l.Check("k", 5)
		assert.Equal(t, base.Add(time.Minute), res.ResetAt)

		l.now = func() time.Time { return base.Add(30 * time.Second) }
		res = l.Check("k", 5)
		assert.Equal(t, base.Add(time.Minute), res.ResetAt)
	})
}

func TestCheckAll(t *testing.T) {
	t.Run("should check all scopes and return minimum remaining", func(t *testing.T) {
		l := newTestLimiter()

		res := l.CheckAll("u-1", "t-1", "10.0.0.1")

		assert.True(t, res.Allowed)
		// Per-user limit of 10 is the tightest scope.
		assert.Equal(t, 9, res.Remaining)
		assert.Empty(t, res.ViolatingScope)
	})

	t.Run("should report the violating scope", func(t *testing.T) {
		l := New(Config{PerUser: 2, PerTenant: 100, PerIP: 50, Window: time.Minute})

		l.CheckAll("u-1", "t-1", "10.0.0.1")
		l.CheckAll("u-1", "t-1", "10.0.0.1")
		res := l.CheckAll("u-1", "t-1", "10.0.0.1")

		assert.False(t, res.Allowed)
		assert.Equal(t, "user", res.ViolatingScope)
		assert.Equal(t, 0, res.Remaining)
	})

	t.Run("ip scope is checked before user", func(t *testing.T) {
		l := New(Config{PerUser: 2, PerTenant: 100, PerIP: 2, Window: time.Minute})

		l.CheckAll("u-1", "", "10.0.0.1")
		l.CheckAll("u-1", "", "10.0.0.1")
		res := l.CheckAll("u-1", "", "10.0.0.1")

		assert.False(t, res.Allowed)
		assert.Equal(t, "ip", res.ViolatingScope)
	})

	t.Run("scopes after the violator are not incremented", func(t *testing.T) {
		l := New(Config{PerUser: 10, PerTenant: 100, PerIP: 1, Window: time.Minute})

		l.CheckAll("u-1", "t-1", "10.0.0.1")
		res := l.CheckAll("u-1", "t-1", "10.0.0.1")
		require.False(t, res.Allowed)
		require.Equal(t, "ip", res.ViolatingScope)

		// The user and tenant cells saw only the first, allowed request.
		userStatus, ok := l.Status("user:u-1")
		require.True(t, ok)
		assert.Equal(t, 1, userStatus.Usage)

		tenantStatus, ok := l.Status("tenant:t-1")
		require.True(t, ok)
		assert.Equal(t, 1, tenantStatus.Usage)
	})

	t.Run("should skip absent scopes", func(t *testing.T) {
		l := newTestLimiter()

		res := l.CheckAll("", "", "10.0.0.1")
		assert.True(t, res.Allowed)
		assert.Equal(t, 49, res.Remaining)

		_, ok := l.Status("user:")
		assert.False(t, ok)
	})
}

func TestStatusAndReset(t *testing.T) {
	t.Run("status should report usage", func(t *testing.T) {
		l := newTestLimiter()

		l.Check("k", 10)
		l.Check("k", 10)

		status, ok := l.Status("k")
		require.True(t, ok)
		assert.Equal(t, 2, status.Usage)
		assert.Equal(t, status.WindowStart.Add(time.Minute), status.ResetAt)
	})

	t.Run("status should be absent for unknown keys", func(t *testing.T) {
		l := newTestLimiter()

		_, ok := l.Status("nope")
		assert.False(t, ok)
	})

	t.Run("reset should be idempotent", func(t *testing.T) {
		l := newTestLimiter()

		l.Check("k", 10)
		l.Reset("k")
		l.Reset("k")

		_, ok := l.Status("k")
		assert.False(t, ok)

		res := l.Check("k", 10)
		assert.Equal(t, 9, res.Remaining)
	})
}

func TestSweep(t *testing.T) {
	t.Run("should remove only expired cells", func(t *testing.T) {
		l := newTestLimiter()

		base := time.Now()
		l.now = func() time.Time { return base }
		l.Check("old", 10)

		l.now = func() time.Time { return base.Add(45 * time.Second) }
		l.Check("fresh", 10)

		l.now = func() time.Time { return base.Add(70 * time.Second) }
		removed := l.Sweep()

		assert.Equal(t, 1, removed)
		_, ok := l.Status("old")
		assert.False(t, ok)
		_, ok = l.Status("fresh")
		assert.True(t, ok)
	})

	t.Run("sweeper lifecycle should be stoppable", func(t *testing.T) {
		l := newTestLimiter()
		l.StartSweeper(10 * time.Millisecond)
		time.Sleep(30 * time.Millisecond)
		l.StopSweeper()
		l.StopSweeper()
	})
}

func TestConcurrentChecks(t *testing.T) {
	t.Run("no increment is lost under concurrency", func(t *testing.T) {
		l := newTestLimiter()
		limit := 1000

		var wg sync.WaitGroup
		allowed := make(chan bool, 200)

		for i := 0; i < 200; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				allowed <- l.Check("shared", limit).Allowed
			}()
		}
		wg.Wait()
		close(allowed)

		count := 0
		for a := range allowed {
			if a {
				count++
			}
		}
		assert.Equal(t, 200, count)

		status, ok := l.Status("shared")
		require.True(t, ok)
		assert.Equal(t, 200, status.Usage)
	})

	t.Run("concurrent requests share one window", func(t *testing.T) {
		l := newTestLimiter()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				l.Check(fmt.Sprintf("key-%d", n%5), 100)
			}(i)
		}
		wg.Wait()

		total := 0
		for i := 0; i < 5; i++ {
			status, ok := l.Status(fmt.Sprintf("key-%d", i))
			require.True(t, ok)
			total += status.Usage
		}
		assert.Equal(t, 50, total)
	})
}
