package process

import (
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/kralicky/tfpool/pkg/metrics"
)

// Pool runs queued processes in a fixed number of slots, so that no more
// than Workers() processes spawned through the pool run at the same time.
//
// Queued requests are scheduled in the order they were queued by a single
// scheduler goroutine. A request that is waiting for a free slot holds up
// every request queued after it; requests are delayed, never reordered.
type Pool struct {
	workers int
	spawner Spawner
	lg      *slog.Logger

	queueMu sync.Mutex
	queue   []*pendingJob
	closed  bool
	notify  chan struct{}

	// owned by the scheduler goroutine until it exits
	slots    []Handle
	released chan struct{}

	stop          chan struct{}
	schedulerDone chan struct{}
	shutdownOnce  sync.Once
}

type pendingJob struct {
	handle   *DeferredHandle
	spec     SpawnSpec
	queuedAt time.Time
}

type poolOptions struct {
	logger  *slog.Logger
	spawner Spawner
}

type PoolOption func(*poolOptions)

func (o *poolOptions) apply(opts ...PoolOption) {
	for _, op := range opts {
		op(o)
	}
}

func WithPoolLogger(lg *slog.Logger) PoolOption {
	return func(o *poolOptions) {
		o.logger = lg
	}
}

// WithProcessSpawner sets the strategy the scheduler uses to start a process
// once a slot is free. Defaults to DirectSpawner.
func WithProcessSpawner(s Spawner) PoolOption {
	return func(o *poolOptions) {
		o.spawner = s
	}
}

// NewPool creates a pool with the given number of slots and starts its
// scheduler. If workers is not positive, the number of CPUs is used.
// Shutdown must be called to release the scheduler.
func NewPool(workers int, opts ...PoolOption) *Pool {
	options := poolOptions{
		logger:  slog.Default(),
		spawner: DirectSpawner,
	}
	options.apply(opts...)

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	p := &Pool{
		workers:       workers,
		spawner:       options.spawner,
		lg:            options.logger.With("component", "pool"),
		notify:        make(chan struct{}, 1),
		slots:         make([]Handle, workers),
		released:      make(chan struct{}, 1),
		stop:          make(chan struct{}),
		schedulerDone: make(chan struct{}),
	}
	metrics.PoolSlots.Add(float64(workers))
	p.lg.With("workers", workers).Info("starting process pool")
	go p.run()
	return p
}

func (p *Pool) Workers() int {
	return p.workers
}

// Spawner returns a Spawner that queues processes in this pool. Its Spawn
// method never blocks and always returns a *DeferredHandle.
func (p *Pool) Spawner() Spawner {
	return SpawnerFunc(func(spec SpawnSpec) (Handle, error) {
		return p.Queue(spec), nil
	})
}

// Queue adds a spawn request to the pool and returns a handle to the process
// without waiting for a slot to become available. If the pool has been shut
// down, the returned handle is already bound to an exited stand-in and its
// Err method returns ErrPoolClosed.
func (p *Pool) Queue(spec SpawnSpec) *DeferredHandle {
	d := newDeferredHandle()

	p.queueMu.Lock()
	if p.closed {
		p.queueMu.Unlock()
		d.bind(newFailedHandle(spec, ErrPoolClosed), ErrPoolClosed)
		return d
	}
	p.queue = append(p.queue, &pendingJob{
		handle:   d,
		spec:     spec,
		queuedAt: time.Now(),
	})
	p.queueMu.Unlock()
	metrics.PoolQueueDepth.Inc()

	select {
	case p.notify <- struct{}{}:
	default:
	}
	p.lg.Debug("queued job", "args", spec.Args, "dir", spec.Dir)
	return d
}

// Shutdown stops the scheduler, then waits for every process occupying a
// slot to exit. Requests still waiting in the queue are never started; their
// handles are bound to exited stand-ins carrying ErrPoolClosed. Safe to call
// more than once.
func (p *Pool) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.lg.Debug("shutting down process pool")

		p.queueMu.Lock()
		p.closed = true
		pending := p.queue
		p.queue = nil
		p.queueMu.Unlock()

		close(p.stop)
		<-p.schedulerDone

		for _, job := range pending {
			metrics.PoolQueueDepth.Dec()
			p.reject(job)
		}
		for i, occupant := range p.slots {
			if occupant == nil {
				continue
			}
			p.lg.Debug("waiting for slot", "slot", i, "id", occupant.ID())
			occupant.Wait()
		}
		metrics.PoolSlots.Sub(float64(p.workers))
		p.lg.Debug("process pool shutdown complete")
	})
}

func (p *Pool) run() {
	defer close(p.schedulerDone)
	p.lg.Debug("scheduler running")
	for {
		job, ok := p.next()
		if !ok {
			return
		}
		slot, ok := p.awaitSlot()
		if !ok {
			p.reject(job)
			return
		}
		p.schedule(slot, job)
	}
}

// next pops the oldest queued job, waiting for one to be queued if
// necessary. It returns false once the pool is shutting down.
func (p *Pool) next() (*pendingJob, bool) {
	for {
		select {
		case <-p.stop:
			return nil, false
		default:
		}

		p.queueMu.Lock()
		if len(p.queue) > 0 {
			job := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.queueMu.Unlock()
			metrics.PoolQueueDepth.Dec()
			return job, true
		}
		p.queueMu.Unlock()

		select {
		case <-p.notify:
		case <-p.stop:
			return nil, false
		}
	}
}

// awaitSlot returns the index of the first slot that is empty or whose
// process has exited, waiting for an occupant to exit if all slots are busy.
func (p *Pool) awaitSlot() (int, bool) {
	for {
		for i, occupant := range p.slots {
			if occupant == nil {
				return i, true
			}
			if _, exited := occupant.ReturnCode(); exited {
				return i, true
			}
		}
		p.lg.Debug("all slots busy, waiting for a process to exit")
		select {
		case <-p.released:
		case <-p.stop:
			return -1, false
		}
	}
}

func (p *Pool) schedule(slot int, job *pendingJob) {
	lg := p.lg.With("slot", slot)
	h, err := p.spawner.Spawn(job.spec)
	metrics.PoolScheduleWaitSeconds.Observe(time.Since(job.queuedAt).Seconds())
	if err != nil {
		lg.With("error", err).Error("failed to start queued job")
		job.handle.bind(newFailedHandle(job.spec, err), err)
		return
	}

	p.slots[slot] = h
	metrics.PoolSlotsBusy.Inc()
	go func() {
		<-h.Done()
		metrics.PoolSlotsBusy.Dec()
		select {
		case p.released <- struct{}{}:
		default:
		}
	}()
	lg.With("id", h.ID(), "pid", h.Pid()).Info("scheduled job")
	job.handle.bind(h, nil)
}

func (p *Pool) reject(job *pendingJob) {
	job.handle.bind(newFailedHandle(job.spec, ErrPoolClosed), ErrPoolClosed)
}
