package manager

import (
	"errors"

	"github.com/loykin/streamgate/internal/process"
)

var (
	// ErrAlreadyExists is returned by Define for a name that is already defined.
	ErrAlreadyExists = errors.New("process already exists")
	// ErrNoSuchProcess is returned for operations on an undefined name.
	ErrNoSuchProcess = errors.New("no such process")
	// ErrCrashLoop is returned by Recover once the consecutive restart ceiling is reached.
	ErrCrashLoop = errors.New("restart ceiling reached")
	// ErrShutdown is returned after Shutdown.
	ErrShutdown = errors.New("manager is shut down")

	// ErrSpawnFailure matches OS launch errors (see process.SpawnError).
	ErrSpawnFailure = process.ErrSpawnFailure
)
