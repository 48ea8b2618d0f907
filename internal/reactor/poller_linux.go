//go:build linux

package reactor

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// slotEntry is one registration in the poller's fixed, capacity-sized
// table. gen increments every time this token is (re-)registered, and
// that value travels with the epoll registration itself (see
// toEpollEvent) so a readiness edge generated against an earlier
// occupant of this token can be recognized and dropped rather than
// misdelivered to whatever callback currently occupies the slot.
type slotEntry struct {
	fd     int
	events Events
	cb     Callback
	gen    int32
	active bool
}

// EpollPoller multiplexes readiness using Linux epoll over a fixed
// table of capacity registration slots, addressed by caller-assigned
// token rather than raw fd — this server never has more than one
// listener plus Config.Clients sockets live at once, so there is no
// arbitrary-fd-space table to size for.
//
// Wait is called concurrently by every worker goroutine in the pool, so
// the kernel event batch cannot live in a single poller-wide field (two
// concurrent EpollWait calls would clobber each other's batch while
// dispatch read it). eventBufs pools one batch buffer per in-flight
// Wait call instead.
type EpollPoller struct {
	epfd      int32
	slots     []slotEntry
	mu        sync.RWMutex
	eventBufs sync.Pool
	closed    atomic.Bool
}

// New returns a Poller with room for exactly capacity concurrently
// registered tokens.
func New(capacity int) Poller {
	bufSize := capacity
	if bufSize > 256 {
		bufSize = 256
	}
	if bufSize < 1 {
		bufSize = 1
	}
	p := &EpollPoller{slots: make([]slotEntry, capacity)}
	p.eventBufs.New = func() any {
		return make([]unix.EpollEvent, bufSize)
	}
	return p
}

func (p *EpollPoller) Init() error {
	if p.closed.Load() {
		return ErrClosed
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return err
	}
	p.epfd = int32(epfd)
	return nil
}

func (p *EpollPoller) Close() error {
	p.closed.Store(true)
	if p.epfd > 0 {
		return unix.Close(int(p.epfd))
	}
	return nil
}

func (p *EpollPoller) RegisterFD(token, fd int, events Events, cb Callback) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if token < 0 || token >= len(p.slots) {
		return ErrTokenOutOfRange
	}

	p.mu.Lock()
	s := &p.slots[token]
	if s.active {
		p.mu.Unlock()
		return ErrTokenAlreadyInUse
	}
	s.gen++
	gen := s.gen
	s.fd, s.events, s.cb, s.active = fd, events, cb, true
	p.mu.Unlock()

	ev := toEpollEvent(token, gen, events)
	if err := unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.mu.Lock()
		*s = slotEntry{gen: gen}
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *EpollPoller) UnregisterFD(token int) error {
	if token < 0 || token >= len(p.slots) {
		return ErrTokenOutOfRange
	}

	p.mu.Lock()
	s := &p.slots[token]
	if !s.active {
		p.mu.Unlock()
		return ErrTokenNotRegistered
	}
	fd := s.fd
	gen := s.gen
	*s = slotEntry{gen: gen}
	p.mu.Unlock()

	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *EpollPoller) ModifyFD(token int, events Events) error {
	if token < 0 || token >= len(p.slots) {
		return ErrTokenOutOfRange
	}

	p.mu.Lock()
	s := &p.slots[token]
	if !s.active {
		p.mu.Unlock()
		return ErrTokenNotRegistered
	}
	s.events = events
	fd, gen := s.fd, s.gen
	p.mu.Unlock()

	ev := toEpollEvent(token, gen, events)
	return unix.EpollCtl(int(p.epfd), unix.EPOLL_CTL_MOD, fd, &ev)
}

// Wait polls once and dispatches whatever comes back. There is no
// poller-wide version check guarding the batch: each event already
// carries the token and generation it was issued for, so staleness is
// resolved per event in dispatch instead of discarding the entire batch
// whenever any registration changed concurrently. Each call borrows its
// own batch buffer from eventBufs so that concurrent Wait calls from
// separate worker goroutines never share one backing array.
func (p *EpollPoller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	buf := p.eventBufs.Get().([]unix.EpollEvent)
	defer p.eventBufs.Put(buf)

	n, err := unix.EpollWait(int(p.epfd), buf, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		if p.closed.Load() {
			return 0, ErrClosed
		}
		return 0, err
	}

	p.dispatch(buf, n)
	return n, nil
}

func (p *EpollPoller) dispatch(buf []unix.EpollEvent, n int) {
	for i := 0; i < n; i++ {
		token, gen := fromEpollEvent(&buf[i])
		if token < 0 || token >= len(p.slots) {
			continue
		}

		p.mu.RLock()
		s := p.slots[token]
		p.mu.RUnlock()

		if !s.active || s.gen != gen || s.cb == nil {
			continue
		}
		s.cb(epollToEvents(buf[i].Events))
	}
}

// toEpollEvent packs the token into the kernel event's Fd field and the
// registration's generation into Pad: epoll treats both as opaque user
// data returned unchanged alongside whichever readiness bits fired, so
// neither needs to be a real file descriptor.
func toEpollEvent(token int, gen int32, events Events) unix.EpollEvent {
	return unix.EpollEvent{Events: eventsToEpoll(events), Fd: int32(token), Pad: gen}
}

func fromEpollEvent(ev *unix.EpollEvent) (token int, gen int32) {
	return int(ev.Fd), ev.Pad
}

func eventsToEpoll(events Events) uint32 {
	var e uint32
	if events&Read != 0 {
		e |= unix.EPOLLIN
	}
	if events&Write != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func epollToEvents(e uint32) Events {
	var events Events
	if e&unix.EPOLLIN != 0 {
		events |= Read
	}
	if e&unix.EPOLLOUT != 0 {
		events |= Write
	}
	if e&unix.EPOLLERR != 0 {
		events |= Err
	}
	if e&unix.EPOLLHUP != 0 || e&unix.EPOLLRDHUP != 0 {
		events |= Hup
	}
	return events
}
