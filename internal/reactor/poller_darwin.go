//go:build darwin

package reactor

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// slotEntry is one registration in the poller's fixed, capacity-sized
// table. gen increments every time this token is (re-)registered, and
// that value travels with the kqueue registration's Udata (see
// genToUdata) so a readiness edge generated against an earlier occupant
// of this token can be recognized and dropped in dispatch instead of
// misdelivered to whatever callback currently occupies the slot.
type slotEntry struct {
	fd     int
	events Events
	cb     Callback
	gen    int32
	active bool
}

// KqueuePoller multiplexes readiness using Darwin kqueue over a fixed
// table of capacity registration slots, addressed by caller-assigned
// token rather than raw fd — this server never has more than one
// listener plus Config.Clients sockets live at once. fdIndex, sized the
// same as slots, translates a kevent's Ident (the real fd the kernel
// reports) back to its token for the dispatch lookup.
//
// Wait is called concurrently by every worker goroutine in the pool, so
// the kernel event batch cannot live in a single poller-wide field (two
// concurrent Kevent calls would clobber each other's batch while
// dispatch read it). eventBufs pools one batch buffer per in-flight
// Wait call instead.
type KqueuePoller struct {
	kq        int32
	slots     []slotEntry
	fdIndex   map[int]int
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
	p := &KqueuePoller{
		slots:   make([]slotEntry, capacity),
		fdIndex: make(map[int]int, capacity),
	}
	p.eventBufs.New = func() any {
		return make([]unix.Kevent_t, bufSize)
	}
	return p
}

func (p *KqueuePoller) Init() error {
	if p.closed.Load() {
		return ErrClosed
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	return nil
}

func (p *KqueuePoller) Close() error {
	p.closed.Store(true)
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

func (p *KqueuePoller) RegisterFD(token, fd int, events Events, cb Callback) error {
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
	p.fdIndex[fd] = token
	p.mu.Unlock()

	if kevs := toKevents(fd, events, unix.EV_ADD|unix.EV_ENABLE, gen); len(kevs) > 0 {
		if _, err := unix.Kevent(int(p.kq), kevs, nil, nil); err != nil {
			p.mu.Lock()
			*s = slotEntry{gen: gen}
			delete(p.fdIndex, fd)
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

func (p *KqueuePoller) UnregisterFD(token int) error {
	if token < 0 || token >= len(p.slots) {
		return ErrTokenOutOfRange
	}

	p.mu.Lock()
	s := &p.slots[token]
	if !s.active {
		p.mu.Unlock()
		return ErrTokenNotRegistered
	}
	fd, events, gen := s.fd, s.events, s.gen
	*s = slotEntry{gen: gen}
	delete(p.fdIndex, fd)
	p.mu.Unlock()

	if kevs := toKevents(fd, events, unix.EV_DELETE, gen); len(kevs) > 0 {
		_, _ = unix.Kevent(int(p.kq), kevs, nil, nil)
	}
	return nil
}

func (p *KqueuePoller) ModifyFD(token int, events Events) error {
	if token < 0 || token >= len(p.slots) {
		return ErrTokenOutOfRange
	}

	p.mu.Lock()
	s := &p.slots[token]
	if !s.active {
		p.mu.Unlock()
		return ErrTokenNotRegistered
	}
	old := s.events
	s.events = events
	fd, gen := s.fd, s.gen
	p.mu.Unlock()

	if del := old &^ events; del != 0 {
		if kevs := toKevents(fd, del, unix.EV_DELETE, gen); len(kevs) > 0 {
			_, _ = unix.Kevent(int(p.kq), kevs, nil, nil)
		}
	}
	if add := events &^ old; add != 0 {
		if kevs := toKevents(fd, add, unix.EV_ADD|unix.EV_ENABLE, gen); len(kevs) > 0 {
			if _, err := unix.Kevent(int(p.kq), kevs, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// Wait polls once and dispatches whatever comes back. There is no
// poller-wide version check guarding the batch: each event already
// carries (via Udata) the generation it was issued for, so staleness
// is resolved per event in dispatch instead of discarding the entire
// batch whenever any registration changed concurrently. Each call
// borrows its own batch buffer from eventBufs so that concurrent Wait
// calls from separate worker goroutines never share one backing array.
func (p *KqueuePoller) Wait(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64(timeoutMs%1000) * 1_000_000,
		}
	}

	buf := p.eventBufs.Get().([]unix.Kevent_t)
	defer p.eventBufs.Put(buf)

	n, err := unix.Kevent(int(p.kq), nil, buf, ts)
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

func (p *KqueuePoller) dispatch(buf []unix.Kevent_t, n int) {
	for i := 0; i < n; i++ {
		kev := &buf[i]
		fd := int(kev.Ident)
		gen := udataToGen(kev.Udata)

		p.mu.RLock()
		token, ok := p.fdIndex[fd]
		var s slotEntry
		if ok {
			s = p.slots[token]
		}
		p.mu.RUnlock()

		if !ok || !s.active || s.gen != gen || s.cb == nil {
			continue
		}
		s.cb(fromKevent(kev))
	}
}

func toKevents(fd int, events Events, flags uint16, gen int32) []unix.Kevent_t {
	var kevs []unix.Kevent_t
	udata := genToUdata(gen)
	if events&Read != 0 {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags, Udata: udata})
	}
	if events&Write != 0 {
		kevs = append(kevs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags, Udata: udata})
	}
	return kevs
}

func fromKevent(kev *unix.Kevent_t) Events {
	var events Events
	switch kev.Filter {
	case unix.EVFILT_READ:
		events |= Read
	case unix.EVFILT_WRITE:
		events |= Write
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		events |= Err
	}
	if kev.Flags&unix.EV_EOF != 0 {
		events |= Hup
	}
	return events
}

// genToUdata/udataToGen round-trip a small registration generation
// through kqueue's opaque per-event Udata field. The kernel never
// dereferences Udata — it is defined purely as a user tag carried
// unchanged from registration to delivery — and this code never
// dereferences it either; it only compares the recovered integer
// against the current slot's generation, so there is no risk from the
// value not being a real heap pointer.
func genToUdata(gen int32) *byte {
	return (*byte)(unsafe.Pointer(uintptr(uint32(gen))))
}

func udataToGen(u *byte) int32 {
	return int32(uintptr(unsafe.Pointer(u)))
}
