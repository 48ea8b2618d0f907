// Package reactor provides a minimal cross-platform I/O readiness
// multiplexer: register a raw file descriptor under a caller-chosen
// token and have a callback invoked whenever the descriptor becomes
// readable or writable.
//
// The registration table is grounded on the fd-registration contract
// of github.com/joeycumines/go-eventloop's FastPoller (epoll on Linux,
// kqueue on Darwin): RegisterFD/ModifyFD/UnregisterFD/Wait keep the
// same verbs so the server engine's dispatch loop reads the same way
// regardless of platform. The bookkeeping underneath departs from that
// source on purpose. FastPoller indexes an arbitrary, potentially huge
// fd address space and guards against a stale readiness batch with one
// poller-wide version counter that discards the entire batch whenever
// any registration changes mid-wait. This package instead serves a
// server with a fixed, small number of live descriptors — one
// listener plus Config.Clients connections — so every Poller is built
// with New(capacity) for exactly that many slots, addressed by the
// small token the caller assigned at RegisterFD time rather than by
// fd, and each individual registration carries its own generation
// counter embedded directly in the kernel event data (epoll's Fd/Pad
// fields, kqueue's Udata). Wait drops only the specific stale events
// whose generation no longer matches their slot, not the whole batch.
//
// Multiple goroutines may call Wait concurrently on the same Poller;
// the OS multiplexing primitive (epoll_wait, kevent) tolerates this, and
// it is exactly how the server engine's fixed worker pool shares one
// reactor (see internal/server).
package reactor
