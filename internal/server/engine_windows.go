//go:build windows

package server

import (
	"context"
	"fmt"
	"net"

	"github.com/rs/zerolog"

	"github.com/Egorov-Alexey/netcalc-go/internal/config"
	"github.com/Egorov-Alexey/netcalc-go/internal/session"
)

// windowsEngine is a portable fallback. Windows completion ports expect
// overlapped I/O rather than readiness polling, which this reactor
// does not implement, so each accepted connection is served by its own
// blocking goroutine instead. The client pool is still capped at
// cfg.Clients through a buffered semaphore, preserving the
// one-operation-per-slot invariant without the reactor driving it.
type windowsEngine struct {
	cfg    config.Config
	logger zerolog.Logger
	sem    chan *session.Slot
	ln     net.Listener
}

func newEngine(cfg config.Config, slots []*session.Slot, logger zerolog.Logger) (engine, error) {
	sem := make(chan *session.Slot, len(slots))
	for _, s := range slots {
		sem <- s
	}
	return &windowsEngine{cfg: cfg, logger: logger, sem: sem}, nil
}

func (e *windowsEngine) addr() net.Addr {
	if e.ln == nil {
		return nil
	}
	return e.ln.Addr()
}

func (e *windowsEngine) run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", e.cfg.Address, e.cfg.Port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	e.ln = ln

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	e.logger.Info().Str("addr", ln.Addr().String()).Uint("clients", e.cfg.Clients).Msg("listening")

	for {
		var slot *session.Slot
		select {
		case slot = <-e.sem:
		case <-ctx.Done():
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			e.sem <- slot
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}

		go e.serve(ctx, slot, conn)
	}
}

func (e *windowsEngine) serve(ctx context.Context, slot *session.Slot, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		slot.IOError()
		e.sem <- slot
	}()

	slot.Accept()
	buf := make([]byte, 8192)
	act := session.Action{Op: session.OpReceive}

	for ctx.Err() == nil {
		switch act.Op {
		case session.OpReceive:
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			act = slot.Feed(buf[:n])
		case session.OpSend:
			if _, err := conn.Write(act.Payload); err != nil {
				return
			}
			act = slot.Continue()
		case session.OpClose:
			return
		}
	}
}
