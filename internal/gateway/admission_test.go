package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionStress(t *testing.T) {
	const size = 5
	a := NewAdmission(size, nil)

	var current, peak atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10*size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot, err := a.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			current.Add(-1)
			slot.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(size))
	assert.Equal(t, 0, a.InFlight())

	// Every permit came back: the full pool can be taken again at once.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	slots := make([]*Slot, 0, size)
	for i := 0; i < size; i++ {
		s, err := a.Acquire(ctx)
		require.NoError(t, err)
		slots = append(slots, s)
	}
	for _, s := range slots {
		s.Release()
	}
}

func TestAdmissionReleaseIdempotent(t *testing.T) {
	a := NewAdmission(1, nil)
	slot, err := a.Acquire(context.Background())
	require.NoError(t, err)
	slot.Release()
	slot.Release()
	assert.Equal(t, 0, a.InFlight())

	first, err := a.Acquire(context.Background())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "a double release must not mint an extra permit")
	first.Release()
}

func TestAdmissionWaiterWokenByRelease(t *testing.T) {
	a := NewAdmission(1, nil)
	held, err := a.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan *Slot)
	go func() {
		s, err := a.Acquire(context.Background())
		if err == nil {
			acquired <- s
		}
	}()

	select {
	case <-acquired:
		t.Fatal("waiter acquired while pool was full")
	case <-time.After(20 * time.Millisecond):
	}

	held.Release()
	select {
	case s := <-acquired:
		s.Release()
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestAdmissionDoReleasesOnErrorAndPanic(t *testing.T) {
	a := NewAdmission(1, nil)

	errBoom := errors.New("boom")
	assert.ErrorIs(t, a.Do(context.Background(), func(context.Context) error { return errBoom }), errBoom)
	assert.Equal(t, 0, a.InFlight())

	assert.Panics(t, func() {
		_ = a.Do(context.Background(), func(context.Context) error { panic("bad") })
	})
	assert.Equal(t, 0, a.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	slot, err := a.Acquire(ctx)
	require.NoError(t, err)
	slot.Release()
}
