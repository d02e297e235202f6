package process

import (
	"errors"
	"strconv"
)

// ErrSpawnFailure matches every SpawnError via errors.Is.
var ErrSpawnFailure = errors.New("spawn failure")

// SpawnError is returned when the OS refuses to launch a process (missing
// binary, permission denied, bad working directory).
type SpawnError struct {
	Name string
	Err  error
}

func (e *SpawnError) Error() string {
	return "spawn " + e.Name + ": " + e.Err.Error()
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawnFailure }

func itoa(i int) string { return strconv.Itoa(i) }
