// Package metrics is corenet's in-process metrics registry, modeled on the
// teacher's probe/downloader/metrics.go idiom (package-level registered
// Meter/Counter/Timer variables consulted from hot paths). The retrieved
// corpus's go.mod carries InfluxDB/Prometheus client libraries for
// *exporting* such a registry, but no corenet/authority component ships a
// metrics transport (see DESIGN.md), so this registry stays in-process.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically adjustable integer metric.
type Counter struct {
	v int64
}

// Inc adds delta to the counter.
func (c *Counter) Inc(delta int64) { atomic.AddInt64(&c.v, delta) }

// Snapshot returns the current value.
func (c *Counter) Snapshot() int64 { return atomic.LoadInt64(&c.v) }

// Meter tracks an event rate.
type Meter struct {
	mu     sync.Mutex
	count  int64
	start  time.Time
}

// Mark records n events.
func (m *Meter) Mark(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start.IsZero() {
		m.start = time.Now()
	}
	m.count += n
}

// RatePerSecond returns the mean event rate since the meter's first mark.
func (m *Meter) RatePerSecond() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start.IsZero() {
		return 0
	}
	elapsed := time.Since(m.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(m.count) / elapsed
}

// Timer tracks durations of an operation.
type Timer struct {
	mu    sync.Mutex
	count int64
	total time.Duration
	max   time.Duration
}

// Update records a single observed duration.
func (t *Timer) Update(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	t.total += d
	if d > t.max {
		t.max = d
	}
}

// Mean returns the mean observed duration.
func (t *Timer) Mean() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 {
		return 0
	}
	return t.total / time.Duration(t.count)
}

// Max returns the largest observed duration.
func (t *Timer) Max() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.max
}

var (
	registryMu sync.Mutex
	registry   = map[string]interface{}{}
)

// NewRegisteredCounter creates and registers a named Counter, mirroring the
// teacher's metrics.NewRegisteredCounter(name, nil) call sites.
func NewRegisteredCounter(name string) *Counter {
	c := &Counter{}
	register(name, c)
	return c
}

// NewRegisteredMeter creates and registers a named Meter.
func NewRegisteredMeter(name string) *Meter {
	m := &Meter{}
	register(name, m)
	return m
}

// NewRegisteredTimer creates and registers a named Timer.
func NewRegisteredTimer(name string) *Timer {
	t := &Timer{}
	register(name, t)
	return t
}

func register(name string, v interface{}) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = v
}

// Get returns a previously registered metric by name, or nil.
func Get(name string) interface{} {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[name]
}
