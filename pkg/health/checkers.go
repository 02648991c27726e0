package health

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than limit goroutines are running,
// which usually means requests are piling up behind a stuck dependency.
func GoroutineCountCheck(limit int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, limit)
		}
		return nil
	}
}

// GCMaxPauseCheck fails when any recent stop-the-world pause exceeds limit.
func GCMaxPauseCheck(limit time.Duration) CheckFunc {
	return func(context.Context) error {
		var stats debug.GCStats
		debug.ReadGCStats(&stats)
		for _, pause := range stats.Pause {
			if pause > limit {
				return errors.Errorf("GC pause %s exceeds threshold %s", pause, limit)
			}
		}
		return nil
	}
}

// Pinger is implemented by *pgxpool.Pool and the Redis idempotency store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck pings a dependency such as the database pool.
func PingCheck(name string, p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrapf(err, "ping %s", name)
		}
		return nil
	}
}

// Closer reports whether a long-lived connection has gone away, like an
// AMQP connection.
type Closer interface {
	IsClosed() bool
}

// ConnCheck fails once c reports closed.
func ConnCheck(name string, c Closer) CheckFunc {
	return func(context.Context) error {
		if c.IsClosed() {
			return errors.Errorf("%s connection closed", name)
		}
		return nil
	}
}
