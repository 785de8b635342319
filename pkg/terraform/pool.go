package terraform

import (
	"context"
	"iter"
	"log/slog"
	"sync"

	"github.com/kralicky/tfpool/pkg/process"
)

const DefaultMaxConcurrency = 4

// ProjectResult is the outcome of running an operation in one project.
// Exactly one of Handle and Err is set.
type ProjectResult struct {
	Project string
	Handle  process.Handle
	Err     error
}

// RunnerPool runs terraform operations across many projects, sharing one
// process pool so that at most a fixed number of terraform processes run at
// the same time.
type RunnerPool struct {
	projects   []string
	env        *Environment
	pool       *process.Pool
	lg         *slog.Logger
	runnerOpts []RunnerOption

	shutdownOnce sync.Once
}

type runnerPoolOptions struct {
	logger         *slog.Logger
	maxConcurrency int
	pool           *process.Pool
	runnerOpts     []RunnerOption
}

type RunnerPoolOption func(*runnerPoolOptions)

func (o *runnerPoolOptions) apply(opts ...RunnerPoolOption) {
	for _, op := range opts {
		op(o)
	}
}

func WithRunnerPoolLogger(lg *slog.Logger) RunnerPoolOption {
	return func(o *runnerPoolOptions) {
		o.logger = lg
	}
}

// WithMaxConcurrency sets the number of slots of the process pool created
// by NewRunnerPool. Ignored if WithProcessPool is also given.
func WithMaxConcurrency(n int) RunnerPoolOption {
	return func(o *runnerPoolOptions) {
		o.maxConcurrency = n
	}
}

// WithProcessPool runs every process in the given pool instead of a new
// one. The runner pool takes ownership of it and shuts it down on Shutdown.
func WithProcessPool(p *process.Pool) RunnerPoolOption {
	return func(o *runnerPoolOptions) {
		o.pool = p
	}
}

// WithRunnerOptions sets options applied to every Runner created by the
// pool.
func WithRunnerOptions(opts ...RunnerOption) RunnerPoolOption {
	return func(o *runnerPoolOptions) {
		o.runnerOpts = append(o.runnerOpts, opts...)
	}
}

func NewRunnerPool(projects []string, env *Environment, opts ...RunnerPoolOption) *RunnerPool {
	options := runnerPoolOptions{
		logger:         slog.Default(),
		maxConcurrency: DefaultMaxConcurrency,
	}
	options.apply(opts...)

	lg := options.logger.With("component", "runner-pool")
	pool := options.pool
	if pool == nil {
		pool = process.NewPool(options.maxConcurrency, process.WithPoolLogger(options.logger))
	}
	return &RunnerPool{
		projects:   projects,
		env:        env,
		pool:       pool,
		lg:         lg,
		runnerOpts: append([]RunnerOption{WithRunnerLogger(options.logger)}, options.runnerOpts...),
	}
}

func (rp *RunnerPool) Projects() []string {
	return rp.projects
}

// Run starts the operation in every project at once and returns a sequence
// of the results in the order of the projects. Each result is yielded as
// soon as its operation has returned a handle, which may still be running.
//
// The sequence stops early if ctx is done. Operations that have already
// been started keep running in the pool until Shutdown.
func (rp *RunnerPool) Run(ctx context.Context, op Operation) iter.Seq[ProjectResult] {
	rp.lg.With("operation", op, "projects", len(rp.projects)).Info("running operation")
	results := make([]chan ProjectResult, len(rp.projects))
	for i, project := range rp.projects {
		results[i] = make(chan ProjectResult, 1)
		runner := NewRunner(project, rp.env, rp.pool.Spawner(), rp.runnerOpts...)
		go func(c chan<- ProjectResult) {
			h, err := runner.Do(op)
			c <- ProjectResult{Project: runner.Project(), Handle: h, Err: err}
		}(results[i])
	}

	return func(yield func(ProjectResult) bool) {
		for _, c := range results {
			select {
			case res := <-c:
				if !yield(res) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

func (rp *RunnerPool) Init(ctx context.Context) iter.Seq[ProjectResult] {
	return rp.Run(ctx, OpInit)
}

func (rp *RunnerPool) Plan(ctx context.Context) iter.Seq[ProjectResult] {
	return rp.Run(ctx, OpPlan)
}

func (rp *RunnerPool) Apply(ctx context.Context) iter.Seq[ProjectResult] {
	return rp.Run(ctx, OpApply)
}

// Shutdown shuts down the process pool, waiting for running processes to
// exit. Safe to call more than once.
func (rp *RunnerPool) Shutdown() {
	rp.shutdownOnce.Do(func() {
		rp.lg.Debug("shutting down runner pool")
		rp.pool.Shutdown()
	})
}
