package server

import "errors"

// Errors returned by Server lifecycle methods.
var (
	ErrAlreadyStarted = errors.New("server: already started")
	ErrNotStarted     = errors.New("server: not started")
)
