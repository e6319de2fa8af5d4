package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainCountsOutcomes(t *testing.T) {
	p := New(context.Background(), 4)

	for i := 0; i < 10; i++ {
		i := i
		p.Submit(fmt.Sprintf("task-%d", i), func(context.Context) error {
			if i%3 == 0 {
				return fmt.Errorf("task %d failed", i)
			}
			return nil
		})
	}

	s := p.Drain()
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 4, s.Failed)
	assert.Equal(t, 6, s.Succeeded)
	require.Len(t, s.Failures, 4)

	var names []string
	for _, f := range s.Failures {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"task-0", "task-3", "task-6", "task-9"}, names)
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	p := New(context.Background(), size)

	var active, peak atomic.Int32
	for i := 0; i < 20; i++ {
		p.Submit("t", func(context.Context) error {
			n := active.Add(1)
			for {
				m := peak.Load()
				if n <= m || peak.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return nil
		})
	}

	s := p.Drain()
	assert.Equal(t, 20, s.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Equal(t, int32(0), active.Load(), "drain returns only after every task finished")
}

func TestPanicIsIsolated(t *testing.T) {
	p := New(context.Background(), 2)

	var ran atomic.Int32
	h := p.Submit("boom", func(context.Context) error {
		panic("kaboom")
	})
	for i := 0; i < 5; i++ {
		p.Submit("ok", func(context.Context) error {
			ran.Add(1)
			return nil
		})
	}

	s := p.Drain()
	assert.Equal(t, int32(5), ran.Load())
	assert.Equal(t, 1, s.Failed)

	var pe *PanicError
	require.True(t, errors.As(h.Wait(), &pe))
	assert.Equal(t, "kaboom", pe.Value)
	assert.NotEmpty(t, pe.Stack)
}

func TestHandleWait(t *testing.T) {
	p := New(context.Background(), 1)
	sentinel := errors.New("nope")

	ok := p.Submit("ok", func(context.Context) error { return nil })
	bad := p.Submit("bad", func(context.Context) error { return sentinel })

	assert.NoError(t, ok.Wait())
	assert.ErrorIs(t, bad.Wait(), sentinel)
	p.Drain()
}

func TestZeroSizeMeansOne(t *testing.T) {
	p := New(context.Background(), 0)
	var active, peak atomic.Int32
	for i := 0; i < 5; i++ {
		p.Submit("t", func(context.Context) error {
			n := active.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return nil
		})
	}
	p.Drain()
	assert.Equal(t, int32(1), peak.Load())
}

func TestEmptyDrain(t *testing.T) {
	s := New(context.Background(), 2).Drain()
	assert.Equal(t, Summary{}, s)
}
