// Package health serves liveness and readiness probes for the shop API.
//
// Every check runs on its own ticker and flips state only after
// consecutive results cross a threshold, so a single slow ping does not
// bounce the instance out of the load balancer. Checks registered with
// Optional cover dependencies the API can work without, such as the event
// broker: their failures are reported as "degraded" but keep readiness.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// CheckFunc reports whether a component is healthy.
type CheckFunc func(ctx context.Context) error

// Probe status values.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const (
	defaultFailureThreshold = 3
	defaultSuccessThreshold = 1
)

// Option tunes a registered check.
type Option func(*check)

// Optional marks a check whose failure degrades the service without taking
// it out of rotation.
func Optional() Option {
	return func(c *check) { c.optional = true }
}

// Thresholds sets how many consecutive failures mark a check unhealthy and
// how many consecutive successes restore it.
func Thresholds(failures, successes int) Option {
	return func(c *check) {
		if failures > 0 {
			c.failAfter = failures
		}
		if successes > 0 {
			c.passAfter = successes
		}
	}
}

// check is one registered probe. run is only called from the check's own
// goroutine, so the streak counters need no locking; healthy and lastErr are
// read by HTTP handlers.
type check struct {
	name      string
	timeout   time.Duration
	fn        CheckFunc
	optional  bool
	failAfter int
	passAfter int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails  int
	passes int
}

func newCheck(name string, timeout time.Duration, fn CheckFunc, opts []Option) *check {
	c := &check{
		name:      name,
		timeout:   timeout,
		fn:        fn,
		failAfter: defaultFailureThreshold,
		passAfter: defaultSuccessThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	// Healthy until proven otherwise.
	c.healthy.Store(true)
	return c
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.passes = 0
		if c.fails++; c.fails >= c.failAfter {
			c.healthy.Store(false)
		}
		return
	}
	c.fails = 0
	if c.passes++; c.passes >= c.passAfter {
		c.healthy.Store(true)
	}
}

func (c *check) failure() string {
	if p := c.lastErr.Load(); p != nil && *p != nil {
		return (*p).Error()
	}
	return "check is unhealthy"
}

func (c *check) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

// Health holds the probes of one service instance.
type Health struct {
	ready atomic.Bool

	// mu guards the check lists and cancel. Handlers copy the lists and
	// release it before reading check state.
	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check of the process itself, like goroutine
// growth. Failing liveness makes the orchestrator restart the instance.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newCheck(name, timeout, fn, opts))
}

// AddReadinessCheck registers a dependency check, like the database pool.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newCheck(name, timeout, fn, opts))
}

// Start runs every registered check every interval until ctx is done or Stop
// is called. Register all checks before calling it.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := append(append([]*check(nil), h.liveness...), h.readiness...)
	h.mu.Unlock()

	for _, c := range checks {
		go c.loop(ctx, interval)
	}
}

// Stop ends all check goroutines. It may be called more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness gate: true after wiring, false at the
// start of graceful shutdown.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the gate is open and no required readiness check
// is failing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	_, critical := evaluate(h.snapshot(false))
	return len(critical) == 0
}

func (h *Health) snapshot(liveness bool) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if liveness {
		return append([]*check(nil), h.liveness...)
	}
	return append([]*check(nil), h.readiness...)
}

// evaluate splits unhealthy checks into optional and required failures.
func evaluate(checks []*check) (optional, critical map[string]string) {
	optional, critical = map[string]string{}, map[string]string{}
	for _, c := range checks {
		if c.healthy.Load() {
			continue
		}
		if c.optional {
			optional[c.name] = c.failure()
		} else {
			critical[c.name] = c.failure()
		}
	}
	return optional, critical
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	optional, critical := evaluate(h.snapshot(true))
	writeResponse(w, optional, critical)
}

// ReadyEndpoint serves /readyz. It answers 503 while the gate is closed or a
// required check fails, and 200 "degraded" when only optional checks fail.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	optional, critical := evaluate(h.snapshot(false))
	if !h.ready.Load() {
		critical["_readiness"] = "service is not ready"
	}
	writeResponse(w, optional, critical)
}

func writeResponse(w http.ResponseWriter, optional, critical map[string]string) {
	code, status := http.StatusOK, StatusOK
	switch {
	case len(critical) > 0:
		code, status = http.StatusServiceUnavailable, StatusUnhealthy
	case len(optional) > 0:
		status = StatusDegraded
	}

	failures := make(map[string]string, len(optional)+len(critical))
	for name, msg := range optional {
		failures[name] = msg
	}
	for name, msg := range critical {
		failures[name] = msg
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		sort.Strings(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
