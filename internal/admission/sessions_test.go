package admission

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessions_RejectsAboveMax(t *testing.T) {
	s := NewSessions(2)

	r1, ok := s.Acquire()
	require.True(t, ok)
	r2, ok := s.Acquire()
	require.True(t, ok)

	_, ok = s.Acquire()
	assert.False(t, ok)
	assert.Equal(t, int64(2), s.Active())

	r1()
	assert.Equal(t, int64(1), s.Active())

	r3, ok := s.Acquire()
	require.True(t, ok)
	r2()
	r3()
	assert.Equal(t, int64(0), s.Active())
}

func TestSessions_ReleaseIsIdempotent(t *testing.T) {
	s := NewSessions(1)
	release, ok := s.Acquire()
	require.True(t, ok)

	release()
	release()
	assert.Equal(t, int64(0), s.Active())

	// releasing a rejected session does nothing either
	_, _ = s.Acquire()
	rejected, ok := s.Acquire()
	assert.False(t, ok)
	rejected()
	assert.Equal(t, int64(1), s.Active())
}

func TestSessions_Unbounded(t *testing.T) {
	s := NewSessions(-1)
	for i := 0; i < 100; i++ {
		_, ok := s.Acquire()
		require.True(t, ok)
	}
	assert.Equal(t, int64(100), s.Active())
}

func TestSessions_ConcurrentAcquireNeverOvershoots(t *testing.T) {
	s := NewSessions(4)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int64
		inFlight atomic.Int64
		peak     atomic.Int64
		start    = make(chan struct{})
	)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			release, ok := s.Acquire()
			if !ok {
				return
			}
			defer release()
			admitted.Add(1)
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(4))
	assert.Positive(t, admitted.Load())
	assert.Equal(t, int64(0), s.Active())
}
