package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/shopline/internal/metrics"
)

// DefaultMaxConnections bounds concurrent outbound engine work.
const DefaultMaxConnections = 50

// Admission bounds the number of concurrent engine calls. Waiters are
// admitted in arrival order.
type Admission struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
	metrics  *metrics.Metrics
}

// Slot is a held admission permit.
type Slot struct {
	once sync.Once
	a    *Admission
}

// NewAdmission creates a controller allowing size concurrent holders.
func NewAdmission(size int, m *metrics.Metrics) *Admission {
	if size <= 0 {
		size = DefaultMaxConnections
	}
	if m == nil {
		m = metrics.New(nil)
	}
	return &Admission{
		sem:     semaphore.NewWeighted(int64(size)),
		max:     int64(size),
		metrics: m,
	}
}

// Acquire blocks until a slot is free or ctx is done.
func (a *Admission) Acquire(ctx context.Context) (*Slot, error) {
	start := time.Now()
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	a.metrics.AdmissionWait.Observe(time.Since(start).Seconds())
	a.metrics.InFlight.Set(float64(a.inFlight.Add(1)))
	return &Slot{a: a}, nil
}

// Release returns the slot. Calling it more than once has no effect.
func (s *Slot) Release() {
	s.once.Do(func() {
		s.a.metrics.InFlight.Set(float64(s.a.inFlight.Add(-1)))
		s.a.sem.Release(1)
	})
}

// Do runs fn while holding a slot. The slot is released on every exit
// path, including a panic in fn.
func (a *Admission) Do(ctx context.Context, fn func(context.Context) error) error {
	slot, err := a.Acquire(ctx)
	if err != nil {
		return err
	}
	defer slot.Release()
	return fn(ctx)
}

// InFlight returns the number of held slots.
func (a *Admission) InFlight() int {
	return int(a.inFlight.Load())
}

// Max returns the configured bound.
func (a *Admission) Max() int {
	return int(a.max)
}
