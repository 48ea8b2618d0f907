// Package session implements the per-connection slot: a reusable
// container pairing a small buffer for outgoing result text with one
// [calc.Evaluator] and a tiny lifecycle state machine
// (Accepting/Receiving/Sending). The receive buffer belongs to the
// transport.
//
// A Slot never performs I/O itself. It is driven by whatever transport
// owns the socket (see internal/server): the transport hands received
// bytes to [Slot.Feed], calls [Slot.Continue] after each completed send,
// and each time gets back an [Action]
// describing what to do next (arm a receive, send some bytes, or close
// and recycle the slot). This keeps the parsing and protocol-framing
// logic unit-testable without a real socket.
package session
