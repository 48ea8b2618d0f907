// Package server wires session.Slot and reactor.Poller into a running
// TCP service: a fixed pool of client slots, each bound to its own
// socket, driven by a bounded pool of worker goroutines sharing one
// reactor.Poller. On Linux and Darwin, accept, receive, and send all run
// as readiness-driven dispatch over raw non-blocking sockets rather than
// blocking calls; on Windows each connection is served by its own
// goroutine using blocking net.Conn calls.
package server
