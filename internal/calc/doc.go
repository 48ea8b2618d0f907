// Package calc implements a streaming, resumable Shunting-Yard evaluator
// for newline-terminated infix integer arithmetic.
//
// # Streaming model
//
// [Evaluator.Feed] never blocks for more input: it consumes whatever bytes
// it is given, advances an internal five-phase state machine, and returns
// as soon as either an expression completes or the input runs out. Partial
// lexemes and not-yet-consumed bytes are carried across calls in an
// internal remainder buffer, so a caller may split an expression across an
// arbitrary sequence of chunks (including one byte at a time) and still
// get byte-identical results to feeding it all at once.
//
// # Operator precedence without an explicit stack of parens
//
// Precedence is tracked by adding [Order] to every operator's base
// priority for each nesting level of '(' currently open. This lets the
// operator stack fold strictly by priority, with no separate bracket
// tokens: any operator written inside parentheses always outranks one
// outside them.
package calc
