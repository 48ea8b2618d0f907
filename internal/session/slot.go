package session

import (
	"strconv"

	"github.com/Egorov-Alexey/netcalc-go/internal/calc"
)

// Phase is a slot's position in its connection lifecycle.
type Phase int

const (
	// Accepting means the slot holds no client socket; it is waiting
	// for the transport to bind one.
	Accepting Phase = iota
	// Receiving means the slot is waiting for more bytes from its
	// client.
	Receiving
	// Sending means the slot has staged output and is waiting for it
	// to be written to its client.
	Sending
)

func (p Phase) String() string {
	switch p {
	case Accepting:
		return "accepting"
	case Receiving:
		return "receiving"
	case Sending:
		return "sending"
	default:
		return "unknown"
	}
}

// Op is the kind of action a transport must perform next for a slot.
type Op int

const (
	// OpReceive: arm an async receive on the slot's socket.
	OpReceive Op = iota
	// OpSend: write Action.Payload to the slot's socket.
	OpSend
	// OpClose: close the slot's socket and return it to Accepting.
	OpClose
)

// Action tells the transport what to do after feeding a slot.
type Action struct {
	Op      Op
	Payload []byte
}

// divisionByZeroText and invalidExpressionText are the two textual
// replies the protocol ever sends besides a decimal result; both close
// the connection once written. They are pre-allocated so sending them
// never allocates.
var (
	divisionByZeroText    = []byte("Division by zero\n")
	invalidExpressionText = []byte("Invalid expression\n")
)

// resultBufSize bounds the decimal text of any int32 result plus its
// sign and trailing newline ("-2147483648\n" is 12 bytes).
const resultBufSize = 16

// Slot is a reusable per-connection container: a stable Index (its
// position in the server's slot vector), one Evaluator, and a lifecycle
// Phase. It is not safe for concurrent use — the server engine
// guarantees at most one I/O completion in flight per slot at a time
// (see package server), so no internal locking is needed.
type Slot struct {
	Index int
	Phase Phase

	eval       calc.Evaluator
	closeAfter bool
	resultBuf  [resultBufSize]byte
}

// New returns a Slot ready to accept its first client.
func New(index int) *Slot {
	return &Slot{Index: index, Phase: Accepting}
}

// Accept transitions the slot from Accepting to Receiving once a client
// socket has been bound.
func (s *Slot) Accept() {
	s.Phase = Receiving
}

// Feed processes newly received bytes (data may be empty only to drain
// a previously staged evaluator) and returns the next Action. It must
// only be called while Phase == Receiving.
func (s *Slot) Feed(data []byte) Action {
	return s.parse(data)
}

// Continue is called after a successful send completes. It resumes
// parsing from whatever the evaluator has already buffered internally
// (a long input like "1+2\n3+4\n" yields multiple results from a single
// receive), or returns to Receiving once the evaluator is fully drained.
func (s *Slot) Continue() Action {
	if s.closeAfter {
		return s.reset()
	}
	if !s.eval.IsEmpty() {
		return s.parse(nil)
	}
	s.Phase = Receiving
	return Action{Op: OpReceive}
}

// IOError is called whenever a receive or send on the slot's socket
// fails. The evaluator is cleared and the slot is recycled back to
// Accepting.
func (s *Slot) IOError() Action {
	return s.reset()
}

func (s *Slot) parse(data []byte) Action {
	outcome, value := s.eval.Feed(data)

	switch outcome {
	case calc.Incomplete:
		s.Phase = Receiving
		return Action{Op: OpReceive}
	case calc.Success:
		s.Phase = Sending
		s.closeAfter = false
		buf := strconv.AppendInt(s.resultBuf[:0], int64(value), 10)
		buf = append(buf, '\n')
		return Action{Op: OpSend, Payload: buf}
	case calc.DivisionByZero:
		s.Phase = Sending
		s.closeAfter = true
		return Action{Op: OpSend, Payload: divisionByZeroText}
	case calc.InvalidExpression:
		s.Phase = Sending
		s.closeAfter = true
		return Action{Op: OpSend, Payload: invalidExpressionText}
	default:
		panic("session: unhandled evaluator outcome")
	}
}

func (s *Slot) reset() Action {
	s.eval.Clear()
	s.closeAfter = false
	s.Phase = Accepting
	return Action{Op: OpClose}
}
