package process

import (
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kralicky/tfpool/pkg/metrics"
	"github.com/kralicky/tfpool/pkg/util"
	"golang.org/x/sys/unix"
)

const (
	readBufferSize    = 8 * 1024
	pollTimeoutMillis = 1000
	readerJoinTimeout = 1 * time.Second

	// Exit code reported by handles whose process could not be started,
	// matching the shell convention for a command that cannot be executed.
	FailedSpawnCode = 127
)

// SpawnSpec describes a process to start.
type SpawnSpec struct {
	// Command and arguments. Args[0] is looked up in PATH if it does not
	// contain a path separator.
	Args []string
	// Working directory of the process. Empty means the current directory.
	Dir string
	// Environment of the process, in "KEY=value" form. If nil, the process
	// inherits the environment of the current process.
	Env []string
}

// ProcessHandle wraps a single running OS process. Both of its output
// streams are continuously drained into in-memory buffers by background
// reader goroutines, so the child never blocks on a full pipe, and callers
// can read output at any time without blocking.
type ProcessHandle struct {
	id    string
	spec  SpawnSpec
	cmd   *exec.Cmd
	pid   int
	start time.Time
	lg    *slog.Logger

	buffers     [len(streams)]*util.StreamBuffer
	readersDone [len(streams)]chan struct{}

	// closed after code has been set
	exited chan struct{}
	code   int

	// serializes Wait
	waitMu sync.Mutex
}

var _ Handle = (*ProcessHandle)(nil)

// Spawn starts a new process with both output streams redirected to pipes,
// and immediately starts reading from them. If the process cannot be
// started, a *SpawnError is returned and nothing is left running.
func Spawn(spec SpawnSpec) (*ProcessHandle, error) {
	if len(spec.Args) == 0 {
		metrics.ProcessSpawnFailuresTotal.Inc()
		return nil, &SpawnError{Args: spec.Args, Err: errors.New("empty command")}
	}
	h := newHandle(spec)

	readFds := [len(streams)]int{-1, -1}
	var writeFiles [len(streams)]*os.File
	closeAll := func() {
		for i := range streams {
			if writeFiles[i] != nil {
				writeFiles[i].Close()
			}
			if readFds[i] >= 0 {
				unix.Close(readFds[i])
			}
		}
	}
	for i, s := range streams {
		r, w, err := newPipe(s.String())
		if err != nil {
			closeAll()
			metrics.ProcessSpawnFailuresTotal.Inc()
			return nil, &SpawnError{Args: spec.Args, Err: err}
		}
		readFds[i], writeFiles[i] = r, w
	}

	cmd := exec.Command(spec.Args[0], spec.Args[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	cmd.Stdin = nil
	cmd.Stdout = writeFiles[Stdout]
	cmd.Stderr = writeFiles[Stderr]

	if err := cmd.Start(); err != nil {
		closeAll()
		metrics.ProcessSpawnFailuresTotal.Inc()
		h.lg.With("error", err).Error("failed to start command")
		return nil, &SpawnError{Args: spec.Args, Err: err}
	}
	// the child holds its own copies of the write ends; the parent's must be
	// closed so the readers see EOF once the child exits
	for _, w := range writeFiles {
		w.Close()
	}

	h.cmd = cmd
	h.pid = cmd.Process.Pid
	h.start = time.Now()
	h.lg = h.lg.With("pid", h.pid)
	metrics.ProcessesStartedTotal.Inc()
	h.lg.Info("command started")

	go h.reap()
	for i, s := range streams {
		go h.reader(s, readFds[i])
	}
	return h, nil
}

func newHandle(spec SpawnSpec) *ProcessHandle {
	// generate a uuid for the process, but encode it in the raw hex format.
	u := uuid.New()
	id := hex.EncodeToString(u[:])
	command := ""
	if len(spec.Args) > 0 {
		command = spec.Args[0]
	}
	h := &ProcessHandle{
		id:     id,
		spec:   spec,
		pid:    -1,
		exited: make(chan struct{}),
		lg:     slog.With("id", id, "command", command),
	}
	for i := range streams {
		h.buffers[i] = util.NewStreamBuffer()
		h.readersDone[i] = make(chan struct{})
	}
	return h
}

// newFailedHandle returns an already-exited handle standing in for a process
// that could not be started. Its stderr contains the error message.
func newFailedHandle(spec SpawnSpec, err error) *ProcessHandle {
	h := newHandle(spec)
	h.buffers[Stderr].Write([]byte(err.Error() + "\n"))
	for i := range streams {
		close(h.readersDone[i])
	}
	h.code = FailedSpawnCode
	close(h.exited)
	return h
}

func newPipe(name string) (int, *os.File, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return -1, nil, err
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return -1, nil, err
	}
	return fds[0], os.NewFile(uintptr(fds[1]), name), nil
}

func (h *ProcessHandle) reap() {
	h.cmd.Wait()
	h.code = exitCode(h.cmd.ProcessState)
	close(h.exited)

	duration := time.Since(h.start)
	metrics.RecordExit(h.code, duration)
	h.lg.With(
		"exitCode", h.code,
		"duration", duration,
	).Info("command terminated")
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// reader drains one output stream of the process into its buffer. It only
// returns once a read yields no data and the process had already exited
// before that read; a read that comes up empty while the process is still
// alive is not treated as the end of the stream.
func (h *ProcessHandle) reader(stream Stream, fd int) {
	defer close(h.readersDone[stream])
	defer unix.Close(fd)

	lg := h.lg.With("stream", stream.String())
	buf := make([]byte, readBufferSize)
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		if _, err := unix.Poll(pfd, pollTimeoutMillis); err != nil && !errors.Is(err, unix.EINTR) {
			lg.With("error", err).Warn("poll failed")
		}
		// sampled before reading, so that output written just before the
		// process exited is never left in the pipe
		exited := h.hasExited()
		n, err := unix.Read(fd, buf)
		switch {
		case n > 0:
			h.buffers[stream].Write(buf[:n])
			lg.Debug("read output", "bytes", n)
			continue
		case err == nil:
			// EOF: every copy of the write end is closed, nothing more can
			// arrive on this stream.
			<-h.exited
			lg.Debug("done reading")
			return
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		default:
			lg.With("error", err).Error("failed to read output")
			<-h.exited
			return
		}
		if exited {
			lg.Debug("done reading")
			return
		}
	}
}

func (h *ProcessHandle) hasExited() bool {
	select {
	case <-h.exited:
		return true
	default:
		return false
	}
}

func (h *ProcessHandle) ID() string {
	return h.id
}

func (h *ProcessHandle) Pid() int {
	return h.pid
}

func (h *ProcessHandle) Args() []string {
	return h.spec.Args
}

func (h *ProcessHandle) Read(stream Stream, size int) (string, error) {
	if err := checkStream(stream); err != nil {
		return "", err
	}
	return string(h.buffers[stream].Read(size)), nil
}

func (h *ProcessHandle) ReadAll(stream Stream) (string, error) {
	if err := checkStream(stream); err != nil {
		return "", err
	}
	return string(h.buffers[stream].ReadAll()), nil
}

func (h *ProcessHandle) Seek(stream Stream, position int) error {
	if err := checkStream(stream); err != nil {
		return err
	}
	return h.buffers[stream].Seek(position)
}

func (h *ProcessHandle) Tell(stream Stream) (int, error) {
	if err := checkStream(stream); err != nil {
		return 0, err
	}
	return h.buffers[stream].Tell(), nil
}

func (h *ProcessHandle) ReturnCode() (int, bool) {
	if !h.hasExited() {
		return 0, false
	}
	return h.code, true
}

func (h *ProcessHandle) Done() <-chan struct{} {
	return h.exited
}

func (h *ProcessHandle) Wait() {
	<-h.exited

	h.waitMu.Lock()
	defer h.waitMu.Unlock()
	for _, s := range streams {
		select {
		case <-h.readersDone[s]:
		case <-time.After(readerJoinTimeout):
			h.lg.With("stream", s.String()).Warn("timed out waiting for output reader to finish")
		}
		h.buffers[s].Read(-1)
		h.buffers[s].Seek(0)
	}
}

func (h *ProcessHandle) Result() Result {
	h.Wait()
	return Result{
		ReturnCode: h.code,
		Stdout:     string(h.buffers[Stdout].ReadAll()),
		Stderr:     string(h.buffers[Stderr].ReadAll()),
	}
}
