package supervisor

import "errors"

var (
	// ErrAlreadyInState is returned when the requested state is already
	// current or being entered.
	ErrAlreadyInState = errors.New("server already in requested state")
	// ErrBusy is returned while a conflicting transition is in flight.
	ErrBusy = errors.New("server is busy with another transition")
	// ErrOffline is returned by console writes when the server is not online.
	ErrOffline = errors.New("server is offline")
	// ErrSpawn is returned when the process could not be started or exited
	// before it became ready.
	ErrSpawn = errors.New("server failed to start")
	// ErrReadyTimeout is returned when the ready marker was not seen in time.
	ErrReadyTimeout = errors.New("server did not become ready in time")
	// ErrShutdownTimeout is returned when the process did not exit even after
	// being killed.
	ErrShutdownTimeout = errors.New("server did not exit in time")
	// ErrClosed is returned after the supervisor has shut down.
	ErrClosed = errors.New("supervisor closed")
)
