//go:build darwin

package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newTestPoller(t *testing.T, capacity int) *KqueuePoller {
	t.Helper()
	p := New(capacity).(*KqueuePoller)
	require.NoError(t, p.Init())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestKqueuePoller_DispatchesReadReady(t *testing.T) {
	p := newTestPoller(t, 2)
	r, w := newPipe(t)

	fired := make(chan Events, 1)
	require.NoError(t, p.RegisterFD(0, r, Read, func(ev Events) { fired <- ev }))

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	n, err := p.Wait(1000)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	select {
	case ev := <-fired:
		require.NotZero(t, ev&Read)
	default:
		t.Fatal("callback was not invoked")
	}
}

func TestKqueuePoller_RegisterRejectsOutOfRangeToken(t *testing.T) {
	p := newTestPoller(t, 1)
	r, _ := newPipe(t)
	require.ErrorIs(t, p.RegisterFD(1, r, Read, func(Events) {}), ErrTokenOutOfRange)
	require.ErrorIs(t, p.RegisterFD(-1, r, Read, func(Events) {}), ErrTokenOutOfRange)
}

func TestKqueuePoller_RegisterRejectsReuseOfActiveToken(t *testing.T) {
	p := newTestPoller(t, 1)
	r, _ := newPipe(t)
	require.NoError(t, p.RegisterFD(0, r, Read, func(Events) {}))
	require.ErrorIs(t, p.RegisterFD(0, r, Read, func(Events) {}), ErrTokenAlreadyInUse)
}

func TestKqueuePoller_UnregisterThenReregisterDropsStaleEvents(t *testing.T) {
	p := newTestPoller(t, 1)
	r1, w1 := newPipe(t)

	firstFired := false
	require.NoError(t, p.RegisterFD(0, r1, Read, func(Events) { firstFired = true }))
	_, err := unix.Write(w1, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, p.UnregisterFD(0))
	r2, w2 := newPipe(t)

	secondFired := false
	require.NoError(t, p.RegisterFD(0, r2, Read, func(Events) { secondFired = true }))

	_, err = unix.Write(w2, []byte("y"))
	require.NoError(t, err)

	_, err = p.Wait(1000)
	require.NoError(t, err)

	require.False(t, firstFired)
	require.True(t, secondFired)
}

func TestKqueuePoller_ModifyFDSwitchesInterest(t *testing.T) {
	p := newTestPoller(t, 1)
	r, w := newPipe(t)

	var got Events
	require.NoError(t, p.RegisterFD(0, r, Write, func(ev Events) { got = ev }))
	require.NoError(t, p.ModifyFD(0, Read))

	_, err := unix.Write(w, []byte("x"))
	require.NoError(t, err)

	_, err = p.Wait(1000)
	require.NoError(t, err)
	require.NotZero(t, got&Read)
}

func TestKqueuePoller_UnregisterUnknownTokenErrors(t *testing.T) {
	p := newTestPoller(t, 1)
	require.ErrorIs(t, p.UnregisterFD(0), ErrTokenNotRegistered)
}

func TestKqueuePoller_ConcurrentWaitDispatchesEachFDIndependently(t *testing.T) {
	// Guards against two worker goroutines' Kevent calls sharing one
	// backing event buffer: each registers its own pipe and spins on
	// Wait concurrently, so a shared buffer would manifest as a data
	// race or a callback firing for the wrong token.
	const n = 4
	p := newTestPoller(t, n)

	fired := make([]chan Events, n)
	ws := make([]int, n)
	for i := 0; i < n; i++ {
		r, w := newPipe(t)
		fired[i] = make(chan Events, 1)
		idx := i
		require.NoError(t, p.RegisterFD(i, r, Read, func(ev Events) { fired[idx] <- ev }))
		ws[i] = w
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < n; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, err := p.Wait(50)
				if err != nil {
					return
				}
			}
		}()
	}

	for i := 0; i < n; i++ {
		_, err := unix.Write(ws[i], []byte("x"))
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		select {
		case ev := <-fired[i]:
			require.NotZero(t, ev&Read)
		case <-time.After(2 * time.Second):
			t.Fatalf("fd %d never fired", i)
		}
	}

	close(stop)
	wg.Wait()
}

func TestKqueuePoller_OperationsAfterCloseFail(t *testing.T) {
	p := New(1).(*KqueuePoller)
	require.NoError(t, p.Init())
	require.NoError(t, p.Close())

	r, _ := newPipe(t)
	require.ErrorIs(t, p.RegisterFD(0, r, Read, func(Events) {}), ErrClosed)
	_, err := p.Wait(0)
	require.ErrorIs(t, err, ErrClosed)
}
