package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	cfg, err := New(Config{Port: 2000, Clients: DefaultThreads()})
	require.NoError(t, err)
	require.Equal(t, DefaultAddress, cfg.Address)
	require.Equal(t, DefaultThreads(), cfg.Threads)
}

func TestNew_ExplicitValuesPreserved(t *testing.T) {
	cfg, err := New(Config{Address: "0.0.0.0", Port: 9000, Clients: 8, Threads: 2})
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Address)
	require.Equal(t, uint16(9000), cfg.Port)
	require.Equal(t, uint(8), cfg.Clients)
	require.Equal(t, uint(2), cfg.Threads)
}

func TestNew_RejectsMissingPort(t *testing.T) {
	_, err := New(Config{Clients: 1})
	require.ErrorIs(t, err, ErrNoPort)
}

func TestNew_RejectsLowPort(t *testing.T) {
	_, err := New(Config{Port: 80, Clients: 1})
	require.ErrorIs(t, err, ErrPortTooLow)
}

func TestNew_RejectsMissingClients(t *testing.T) {
	_, err := New(Config{Port: 2000})
	require.ErrorIs(t, err, ErrNoClients)
}

func TestNew_RejectsTooManyThreads(t *testing.T) {
	_, err := New(Config{Port: 2000, Clients: 2, Threads: 3})
	require.ErrorIs(t, err, ErrTooManyThreads)
}
