package process

import (
	"context"
	"sync"
)

// DeferredHandle is a placeholder for a process that has been queued but not
// yet started. It is returned immediately when a spawn request is queued, and
// is bound to the real handle once the process has been scheduled.
//
// DeferredHandle implements Handle; every method blocks until the handle has
// been bound, then forwards to the bound handle. Use Bound or Await to wait
// for scheduling without blocking indefinitely.
type DeferredHandle struct {
	bound  chan struct{}
	once   sync.Once
	handle Handle
	err    error
}

var _ Handle = (*DeferredHandle)(nil)

func newDeferredHandle() *DeferredHandle {
	return &DeferredHandle{
		bound: make(chan struct{}),
	}
}

// bind assigns the handle. Only the first call has any effect; it reports
// whether this call performed the assignment.
func (d *DeferredHandle) bind(h Handle, err error) bool {
	bound := false
	d.once.Do(func() {
		d.handle = h
		d.err = err
		close(d.bound)
		bound = true
	})
	return bound
}

// Bound returns a channel that will be closed once the handle is bound.
func (d *DeferredHandle) Bound() <-chan struct{} {
	return d.bound
}

// Await waits until the handle is bound or the context is done. If the
// process could not be started, the returned error describes why, and the
// returned handle is an already-exited stand-in whose stderr contains the
// error message.
func (d *DeferredHandle) Await(ctx context.Context) (Handle, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.bound:
		return d.handle, d.err
	}
}

// Err blocks until the handle is bound, then returns the error that
// prevented the process from starting, if any.
func (d *DeferredHandle) Err() error {
	<-d.bound
	return d.err
}

func (d *DeferredHandle) get() Handle {
	<-d.bound
	return d.handle
}

func (d *DeferredHandle) ID() string {
	return d.get().ID()
}

func (d *DeferredHandle) Pid() int {
	return d.get().Pid()
}

func (d *DeferredHandle) Args() []string {
	return d.get().Args()
}

func (d *DeferredHandle) Read(stream Stream, size int) (string, error) {
	return d.get().Read(stream, size)
}

func (d *DeferredHandle) ReadAll(stream Stream) (string, error) {
	return d.get().ReadAll(stream)
}

func (d *DeferredHandle) Seek(stream Stream, position int) error {
	return d.get().Seek(stream, position)
}

func (d *DeferredHandle) Tell(stream Stream) (int, error) {
	return d.get().Tell(stream)
}

func (d *DeferredHandle) ReturnCode() (int, bool) {
	return d.get().ReturnCode()
}

func (d *DeferredHandle) Done() <-chan struct{} {
	return d.get().Done()
}

func (d *DeferredHandle) Wait() {
	d.get().Wait()
}

func (d *DeferredHandle) Result() Result {
	return d.get().Result()
}
