package terraform

import "fmt"

// Exit codes of "terraform plan -detailed-exitcode". Apply and init only use
// ExitNoChanges and ExitError.
const (
	ExitNoChanges = 0
	ExitError     = 1
	ExitChanges   = 2
)

// ExitStatus describes an exit code of a plan.
func ExitStatus(code int) string {
	switch code {
	case ExitNoChanges:
		return "Succeeded, diff is empty (no changes)"
	case ExitError:
		return "Errored"
	case ExitChanges:
		return "Succeeded, there is a diff"
	default:
		return fmt.Sprintf("Unexpected exit code %d", code)
	}
}

// Operation is a terraform operation that can be run across many projects.
type Operation string

const (
	OpInit  Operation = "init"
	OpPlan  Operation = "plan"
	OpApply Operation = "apply"
)

func ParseOperation(name string) (Operation, error) {
	switch op := Operation(name); op {
	case OpInit, OpPlan, OpApply:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q: must be one of (init, plan, apply)", name)
	}
}
