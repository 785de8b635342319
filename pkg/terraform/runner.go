package terraform

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kralicky/tfpool/pkg/metrics"
	"github.com/kralicky/tfpool/pkg/process"
)

// PlanFile is the name of the plan written by Plan and applied by Apply,
// relative to the project directory.
const PlanFile = "default.tfplan"

const (
	defaultPlanProbes       = 120
	defaultFirstOutputDelay = 500 * time.Millisecond
	maxPlanRestarts         = 3
	stateAttempts           = 2
)

var (
	reinitMarker        = "Backend reinitialization required"
	refreshMarker       = "Refreshing Terraform state in-memory prior to plan..."
	stateInitMarker     = "Initialization required"
	initRequiredPattern = regexp.MustCompile(`"terraform\s*init"`)
)

// Runner runs terraform commands in a single project directory. Processes
// are started through a process.Spawner; with a pooled spawner every method
// returns as soon as the request is queued, except Plan and State, which
// need to look at the output of the process.
type Runner struct {
	project string
	env     *Environment
	spawner process.Spawner
	lg      *slog.Logger

	planProbes       int
	firstOutputDelay time.Duration
}

type runnerOptions struct {
	logger           *slog.Logger
	planProbes       int
	firstOutputDelay time.Duration
}

type RunnerOption func(*runnerOptions)

func (o *runnerOptions) apply(opts ...RunnerOption) {
	for _, op := range opts {
		op(o)
	}
}

func WithRunnerLogger(lg *slog.Logger) RunnerOption {
	return func(o *runnerOptions) {
		o.logger = lg
	}
}

// WithPlanProbes configures how many times Plan inspects the output of a
// running plan, and how long it sleeps between probes while the plan has
// not produced a full line of output yet.
func WithPlanProbes(probes int, firstOutputDelay time.Duration) RunnerOption {
	return func(o *runnerOptions) {
		o.planProbes = probes
		o.firstOutputDelay = firstOutputDelay
	}
}

func NewRunner(project string, env *Environment, spawner process.Spawner, opts ...RunnerOption) *Runner {
	options := runnerOptions{
		logger:           slog.Default(),
		planProbes:       defaultPlanProbes,
		firstOutputDelay: defaultFirstOutputDelay,
	}
	options.apply(opts...)

	return &Runner{
		project:          project,
		env:              env,
		spawner:          spawner,
		lg:               options.logger.With("project", project),
		planProbes:       options.planProbes,
		firstOutputDelay: options.firstOutputDelay,
	}
}

func (r *Runner) Project() string {
	return r.project
}

// Do runs the given operation.
func (r *Runner) Do(op Operation) (process.Handle, error) {
	switch op {
	case OpInit:
		return r.Init()
	case OpPlan:
		return r.Plan()
	case OpApply:
		return r.Apply()
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

// Init runs "terraform init".
func (r *Runner) Init() (process.Handle, error) {
	return r.run(OpInit, "init")
}

// Plan runs "terraform plan" and writes the plan to PlanFile.
//
// While the plan is running, its output is probed for signs that the
// working directory is not initialized. If it is not, Plan waits for the
// plan to exit, runs Init, and starts the plan again once initialization
// succeeds. If initialization fails, the handle of the failed init is
// returned instead, so its output can be inspected.
func (r *Runner) Plan() (process.Handle, error) {
	return r.plan(0)
}

func (r *Runner) plan(restarts int) (process.Handle, error) {
	h, err := r.run(OpPlan, "plan -detailed-exitcode -out="+PlanFile)
	if err != nil {
		return nil, err
	}

probe:
	for i := 0; i < r.planProbes; i++ {
		stdout, _ := h.ReadAll(process.Stdout)
		stderr, _ := h.ReadAll(process.Stderr)
		switch {
		case strings.Contains(stdout, reinitMarker) || initRequiredPattern.MatchString(stderr):
			r.lg.Info("project needs to be initialized first")
			h.Wait()
			if restarts >= maxPlanRestarts {
				r.lg.With("restarts", restarts).Warn("project is still not initialized, giving up")
				return h, nil
			}
			metrics.RunnerInitRetriesTotal.Inc()
			initHandle, err := r.Init()
			if err != nil {
				return nil, err
			}
			if code := initHandle.Result().ReturnCode; code != ExitNoChanges {
				r.lg.With("exitCode", code).Warn("failed to initialize")
				metrics.RecordOperation(string(OpPlan), "init_failed")
				return initHandle, nil
			}
			return r.plan(restarts + 1)
		case strings.Contains(stdout, refreshMarker):
			break probe
		case !strings.Contains(stdout, "\n") && !strings.Contains(stderr, "\n"):
			time.Sleep(r.firstOutputDelay)
		default:
			if code, exited := h.ReturnCode(); exited && code != ExitNoChanges && code != ExitChanges {
				r.lg.With("exitCode", code).Warn("plan exited unexpectedly")
				break probe
			}
		}
	}
	return h, nil
}

// Apply runs "terraform apply" on the plan written by a previous Plan. If
// the project has no plan, a *PreconditionError is returned and nothing is
// started.
func (r *Runner) Apply() (process.Handle, error) {
	path := filepath.Join(r.project, PlanFile)
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		err = fmt.Errorf("%s is a directory", path)
	}
	if err != nil {
		metrics.RecordOperation(string(OpApply), "precondition_failed")
		return nil, &PreconditionError{
			Project: r.project,
			Reason:  "no plan to apply, run plan first",
			Err:     err,
		}
	}
	return r.run(OpApply, "apply "+PlanFile)
}

// State pulls the current state of the project. If terraform reports that
// the project needs to be initialized, Init is run once and the state is
// pulled again.
func (r *Runner) State() (gjson.Result, error) {
	var res process.Result
	for attempt := 1; attempt <= stateAttempts; attempt++ {
		h, err := r.run("state", "state pull")
		if err != nil {
			return gjson.Result{}, err
		}
		res = h.Result()
		if res.ReturnCode != ExitError || !strings.Contains(res.Stderr, stateInitMarker) || attempt == stateAttempts {
			break
		}

		r.lg.Info("project needs to be initialized first")
		metrics.RunnerInitRetriesTotal.Inc()
		initHandle, err := r.Init()
		if err != nil {
			return gjson.Result{}, err
		}
		if initRes := initHandle.Result(); initRes.ReturnCode != ExitNoChanges {
			metrics.RecordOperation("state", "init_failed")
			return gjson.Result{}, &InitializationError{
				Project:    r.project,
				ReturnCode: initRes.ReturnCode,
				Stderr:     initRes.Stderr,
			}
		}
	}

	if !gjson.Valid(res.Stdout) {
		return gjson.Result{}, &StateParseError{
			Project:    r.project,
			ReturnCode: res.ReturnCode,
			Stderr:     res.Stderr,
		}
	}
	return gjson.Parse(res.Stdout), nil
}

func (r *Runner) run(op Operation, subcommand string) (process.Handle, error) {
	lg := r.lg.With("operation", op)
	env, err := r.env.For(r.project)
	if err != nil {
		lg.With("error", err).Error("failed to prepare environment")
		metrics.RecordOperation(string(op), "credentials_failed")
		return nil, err
	}
	h, err := r.spawner.Spawn(process.SpawnSpec{
		Args: r.env.Command(subcommand),
		Dir:  r.project,
		Env:  env,
	})
	if err != nil {
		lg.With("error", err).Error("failed to start terraform")
		metrics.RecordOperation(string(op), "spawn_failed")
		return nil, err
	}
	lg.Debug("started terraform", "subcommand", subcommand)
	metrics.RecordOperation(string(op), "started")
	return h, nil
}
