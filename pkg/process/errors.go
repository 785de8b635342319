package process

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpawn matches any *SpawnError according to [errors.Is].
	ErrSpawn = errors.New("failed to spawn process")
	// ErrInvalidStream matches any *InvalidStreamError according to [errors.Is].
	ErrInvalidStream = errors.New("invalid stream")
	// ErrPoolClosed is recorded on spawn requests that were queued after, or
	// still waiting for a slot when, the pool was shut down.
	ErrPoolClosed = errors.New("process pool is shut down")
)

// SpawnError is returned when a process could not be launched.
type SpawnError struct {
	Args []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %q: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

func (e *SpawnError) Is(target error) bool {
	return target == ErrSpawn
}

// InvalidStreamError is returned when a caller names a stream other than
// stdout or stderr.
type InvalidStreamError struct {
	Name string
}

func (e *InvalidStreamError) Error() string {
	return fmt.Sprintf("invalid stream %q: must be one of (stdout, stderr)", e.Name)
}

func (e *InvalidStreamError) Is(target error) bool {
	return target == ErrInvalidStream
}

func checkStream(s Stream) error {
	if !s.valid() {
		return &InvalidStreamError{Name: s.String()}
	}
	return nil
}
