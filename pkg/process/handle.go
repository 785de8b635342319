package process

// Handle represents a process that was (or will be) started on behalf of a
// caller. It allows the caller to read the output of the process without
// blocking while it is still running, and to query its exit status.
//
// Each stream of a handle has a single read cursor shared by all callers.
// All methods are safe to call concurrently from multiple goroutines.
type Handle interface {
	// Returns the unique ID of the handle.
	ID() string
	// Returns the OS process id, or -1 if the process was never started.
	Pid() int
	// Returns the command line the process was started with.
	Args() []string
	// Returns up to size bytes of output from the given stream that have not
	// been read yet, advancing the stream's cursor. If size is negative, all
	// unread output is returned. If there is no new output, an empty string is
	// returned. Never blocks waiting for the process to produce output.
	Read(stream Stream, size int) (string, error)
	// Returns all output received so far on the given stream. The stream's
	// cursor is not moved.
	ReadAll(stream Stream) (string, error)
	// Moves the cursor of the given stream to an absolute position.
	Seek(stream Stream, position int) error
	// Returns the position of the cursor of the given stream.
	Tell(stream Stream) (int, error)
	// Returns the exit code of the process, and whether it has exited. Does
	// not block. Once exited is true, the returned code never changes.
	ReturnCode() (code int, exited bool)
	// Returns a channel that will be closed when the process exits.
	Done() <-chan struct{}
	// Blocks until the process exits and all of its output has been
	// collected, then rewinds the cursor of both streams to the start so the
	// full transcript can be read again.
	Wait()
	// Waits for the process and returns its exit code and full output.
	Result() Result
}

type Result struct {
	ReturnCode int
	Stdout     string
	Stderr     string
}
