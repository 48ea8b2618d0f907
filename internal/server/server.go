package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Egorov-Alexey/netcalc-go/internal/config"
	"github.com/Egorov-Alexey/netcalc-go/internal/session"
)

// engine drives the accept/receive/send loop for one platform. On
// Linux/Darwin it is reactor-backed (see engine_unix.go); on Windows it
// falls back to blocking per-connection goroutines (engine_windows.go).
type engine interface {
	run(ctx context.Context) error
	addr() net.Addr
}

// newEngine is implemented per-platform; see engine_unix.go and
// engine_windows.go.
//
// Server owns the fixed pool of session.Slot values and delegates the
// platform-specific transport plumbing to engine, mirroring how
// NetCalcCore separated its client/slot bookkeeping from the
// Boost.Asio calls that drove it.
type Server struct {
	cfg    config.Config
	logger zerolog.Logger
	engine engine

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// New builds a Server for the given configuration. It allocates
// cfg.Clients session slots but does not start listening; call Start.
func New(cfg config.Config, logger zerolog.Logger) (*Server, error) {
	slots := make([]*session.Slot, cfg.Clients)
	for i := range slots {
		slots[i] = session.New(i)
	}

	eng, err := newEngine(cfg, slots, logger)
	if err != nil {
		return nil, fmt.Errorf("server: building engine: %w", err)
	}

	return &Server{cfg: cfg, logger: logger, engine: eng}, nil
}

// Addr returns the bound listen address. Start returns before the
// engine binds its listener, so Addr is only meaningful once the server
// is accepting connections.
func (s *Server) Addr() net.Addr {
	return s.engine.addr()
}

// Start begins serving in the background, driven by ctx: canceling ctx
// (or calling Stop) shuts the server down. Start itself returns
// immediately; use Wait or Stop to observe completion.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		s.runErr = s.engine.run(runCtx)
	}()

	return nil
}

// Wait blocks until the server stops and returns the error, if any,
// that ended it.
func (s *Server) Wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}
	<-done
	return s.runErr
}

// Stop requests a graceful shutdown and blocks until it completes.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	return s.Wait()
}
