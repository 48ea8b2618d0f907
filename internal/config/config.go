// Package config defines the runtime configuration for the calculator
// service and its validation rules, grounded on the original
// Config/get_config split: a plain data struct plus a separate
// construction path that applies defaults and validates.
package config

import (
	"errors"
	"runtime"
)

// Errors returned by New when the supplied values are invalid.
var (
	ErrNoPort         = errors.New("config: port must be non-zero")
	ErrPortTooLow     = errors.New("config: port must be at least 1024")
	ErrNoClients      = errors.New("config: clients must be at least 1")
	ErrNoThreads      = errors.New("config: threads must be at least 1")
	ErrTooManyThreads = errors.New("config: threads can't exceed clients")
)

// DefaultAddress is used when Address is left empty.
const DefaultAddress = "127.0.0.1"

// MinPort is the lowest port the CLI surface accepts, reserving the
// well-known range for the host OS.
const MinPort = 1024

// Config holds the listen address/port and the fixed-size worker pool
// shape: Clients client slots serviced by Threads worker goroutines.
type Config struct {
	// Address is the listen address. Empty means DefaultAddress.
	Address string

	// Port is the listen port. Zero is invalid.
	Port uint16

	// Clients is the maximum number of simultaneous connections.
	Clients uint

	// Threads is the number of worker goroutines driving the reactor.
	// It must not exceed Clients.
	Threads uint
}

// DefaultThreads mirrors std::thread::hardware_concurrency() falling
// back to 1 if the runtime can't report a usable value.
func DefaultThreads() uint {
	if n := runtime.NumCPU(); n > 0 {
		return uint(n)
	}
	return 1
}

// New validates cfg, filling in Address and Threads defaults, and
// returns the normalized Config. Port and Clients have no usable
// default and must be supplied by the caller.
func New(cfg Config) (Config, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Threads == 0 {
		cfg.Threads = DefaultThreads()
	}

	if cfg.Port == 0 {
		return Config{}, ErrNoPort
	}
	if cfg.Port < MinPort {
		return Config{}, ErrPortTooLow
	}
	if cfg.Clients == 0 {
		return Config{}, ErrNoClients
	}
	if cfg.Threads == 0 {
		return Config{}, ErrNoThreads
	}
	if cfg.Threads > cfg.Clients {
		return Config{}, ErrTooManyThreads
	}

	return cfg, nil
}
