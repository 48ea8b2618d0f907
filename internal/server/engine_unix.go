//go:build linux || darwin

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/Egorov-Alexey/netcalc-go/internal/config"
	"github.com/Egorov-Alexey/netcalc-go/internal/reactor"
	"github.com/Egorov-Alexey/netcalc-go/internal/session"
)

// readBufSize mirrors the 8192-byte per-client buffer of the original
// client struct.
const readBufSize = 8192

// listenerToken is the reactor registration slot reserved for the
// listening socket; client slots occupy 1..len(slots), keeping every
// token a stable, small integer the reactor's fixed-capacity table can
// address without ever touching a raw fd number as an index.
const listenerToken = 0

// clientConn binds a session.Slot to a raw non-blocking socket. token
// is this connection's fixed reactor registration slot — the reactor
// itself tracks a per-token generation, so a callback belonging to an
// fd that has since been closed and recycled is filtered out by the
// reactor before it ever reaches this type.
type clientConn struct {
	slot  *session.Slot
	token int

	mu      sync.Mutex
	fd      int
	pending []byte
}

// unixEngine drives accept/receive/send over a reactor.Poller using
// raw non-blocking BSD sockets, bypassing the standard net package so
// that readiness is always observed through the same reactor the
// worker pool shares (mixing it with the runtime's own netpoller would
// mean polling the same descriptors twice).
type unixEngine struct {
	cfg    config.Config
	logger zerolog.Logger
	poller reactor.Poller

	listenFD int
	laddr    *net.TCPAddr

	acceptMu sync.Mutex
	clients  []*clientConn
}

func newEngine(cfg config.Config, slots []*session.Slot, logger zerolog.Logger) (engine, error) {
	clients := make([]*clientConn, len(slots))
	for i, s := range slots {
		clients[i] = &clientConn{slot: s, token: i + 1, fd: -1}
	}
	capacity := len(slots) + 1
	return &unixEngine{cfg: cfg, logger: logger, poller: reactor.New(capacity), clients: clients}, nil
}

func (e *unixEngine) addr() net.Addr {
	return e.laddr
}

func (e *unixEngine) run(ctx context.Context) error {
	if err := e.poller.Init(); err != nil {
		return fmt.Errorf("server: init poller: %w", err)
	}

	if err := e.listen(); err != nil {
		_ = e.poller.Close()
		return err
	}

	if err := e.poller.RegisterFD(listenerToken, e.listenFD, reactor.Read, func(reactor.Events) { e.tryAccept() }); err != nil {
		_ = e.poller.Close()
		_ = unix.Close(e.listenFD)
		return fmt.Errorf("server: register listener: %w", err)
	}

	e.logger.Info().
		Str("addr", e.laddr.String()).
		Uint("clients", e.cfg.Clients).
		Uint("threads", e.cfg.Threads).
		Msg("listening")

	g, gctx := errgroup.WithContext(ctx)
	for i := uint(0); i < e.cfg.Threads; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				if _, err := e.poller.Wait(250); err != nil {
					if errors.Is(err, reactor.ErrClosed) {
						return nil
					}
					return err
				}
			}
			return nil
		})
	}

	<-ctx.Done()
	_ = e.poller.Close()
	err := g.Wait()

	for _, c := range e.clients {
		c.mu.Lock()
		if c.fd >= 0 {
			_ = unix.Close(c.fd)
			c.fd = -1
		}
		c.mu.Unlock()
	}
	_ = unix.Close(e.listenFD)

	return err
}

func (e *unixEngine) listen() error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("server: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("server: setsockopt: %w", err)
	}

	ip := net.ParseIP(e.cfg.Address).To4()
	if ip == nil {
		_ = unix.Close(fd)
		return fmt.Errorf("server: invalid IPv4 address %q", e.cfg.Address)
	}

	var sa unix.SockaddrInet4
	copy(sa.Addr[:], ip)
	sa.Port = int(e.cfg.Port)

	if err := unix.Bind(fd, &sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("server: bind: %w", err)
	}
	if err := unix.Listen(fd, int(e.cfg.Clients)); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("server: listen: %w", err)
	}

	e.listenFD = fd
	e.laddr = &net.TCPAddr{IP: ip, Port: int(e.cfg.Port)}
	return nil
}

// tryAccept drains the listener's backlog into free slots. A raw
// listening socket only reports one readiness edge regardless of how
// many connections are queued, so — unlike the original's N
// concurrently outstanding async_accept calls, one per slot — this
// loop pulls connections one at a time until either the backlog or the
// free-slot pool is exhausted. Accept-error Policy A applies: on a
// real accept error the loop logs and returns without rearming.
func (e *unixEngine) tryAccept() {
	e.acceptMu.Lock()
	defer e.acceptMu.Unlock()

	for {
		c := e.freeConn()
		if c == nil {
			return
		}

		fd, _, err := unix.Accept4(e.listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			e.logger.Error().Err(err).Msg("accept failed")
			return
		}

		c.mu.Lock()
		c.fd = fd
		c.slot.Accept()
		c.mu.Unlock()

		if err := e.poller.RegisterFD(c.token, fd, reactor.Read, e.callbackFor(c)); err != nil {
			e.logger.Error().Err(err).Int("fd", fd).Msg("register accepted socket")
			_ = unix.Close(fd)
			c.mu.Lock()
			c.fd = -1
			c.mu.Unlock()
			continue
		}

		e.logger.Debug().Int("slot", c.slot.Index).Msg("client accepted")
	}
}

func (e *unixEngine) freeConn() *clientConn {
	for _, c := range e.clients {
		c.mu.Lock()
		free := c.fd < 0
		c.mu.Unlock()
		if free {
			return c
		}
	}
	return nil
}

func (e *unixEngine) callbackFor(c *clientConn) reactor.Callback {
	return func(events reactor.Events) {
		c.mu.Lock()
		defer c.mu.Unlock()

		if c.fd < 0 {
			return
		}

		// A client that writes its last expression and immediately
		// closes commonly reports Read|Hup (or Read|Err) in the same
		// event: the socket still holds unread bytes in its receive
		// buffer alongside the hangup condition. Read must drain
		// whatever is buffered first — onReadableLocked itself treats
		// a zero-byte read as the close signal — so a hangup bit never
		// discards a final expression still sitting in the kernel
		// buffer, matching the original's async_receive semantics of
		// delivering buffered data before surfacing EOF.
		if events&reactor.Read != 0 {
			e.onReadableLocked(c)
			if c.fd < 0 {
				return
			}
		}
		if events&reactor.Write != 0 {
			e.trySendLocked(c)
			return
		}
		// If a send is still pending (armed for a future Write-ready
		// event, e.g. after EAGAIN), leave the close to that event
		// instead of dropping the unsent reply here.
		if events&(reactor.Err|reactor.Hup) != 0 && len(c.pending) == 0 {
			e.closeConnLocked(c)
		}
	}
}

func (e *unixEngine) onReadableLocked(c *clientConn) {
	var buf [readBufSize]byte
	n, err := unix.Read(c.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		e.logger.Error().Err(err).Int("slot", c.slot.Index).Msg("receive failed")
		e.closeConnLocked(c)
		return
	}
	if n == 0 {
		e.closeConnLocked(c)
		return
	}

	e.logger.Debug().Int("slot", c.slot.Index).Int("bytes", n).Msg("received")
	e.handleActionLocked(c, c.slot.Feed(buf[:n]))
}

func (e *unixEngine) handleActionLocked(c *clientConn, act session.Action) {
	switch act.Op {
	case session.OpReceive:
		_ = e.poller.ModifyFD(c.token, reactor.Read)
	case session.OpSend:
		c.pending = act.Payload
		e.trySendLocked(c)
	case session.OpClose:
		e.closeConnLocked(c)
	}
}

func (e *unixEngine) trySendLocked(c *clientConn) {
	for len(c.pending) > 0 {
		n, err := unix.Write(c.fd, c.pending)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				_ = e.poller.ModifyFD(c.token, reactor.Write)
				return
			}
			e.logger.Error().Err(err).Int("slot", c.slot.Index).Msg("send failed")
			e.closeConnLocked(c)
			return
		}
		c.pending = c.pending[n:]
	}

	e.logger.Debug().Int("slot", c.slot.Index).Msg("sent")
	e.handleActionLocked(c, c.slot.Continue())
}

func (e *unixEngine) closeConnLocked(c *clientConn) {
	if c.fd < 0 {
		return
	}
	_ = e.poller.UnregisterFD(c.token)
	_ = unix.Close(c.fd)
	c.fd = -1
	c.pending = nil
	c.slot.IOError()

	e.logger.Debug().Int("slot", c.slot.Index).Msg("client disconnected")

	// Freed a slot; drain any backlog waiting for one. Must not run
	// synchronously: this method is called with c.mu held, and
	// tryAccept may need to lock this same c if it is chosen again.
	go e.tryAccept()
}
