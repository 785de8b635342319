package terraform

import (
	"errors"
	"fmt"
)

var (
	// ErrInitializationFailed matches any *InitializationError according to
	// [errors.Is].
	ErrInitializationFailed = errors.New("initialization failed")
	// ErrPrecondition matches any *PreconditionError according to [errors.Is].
	ErrPrecondition = errors.New("precondition failed")
	// ErrCredentialResolution matches any *CredentialResolutionError
	// according to [errors.Is].
	ErrCredentialResolution = errors.New("failed to resolve credentials")
)

// InitializationError is returned when an automatic "terraform init" fails
// while recovering from an uninitialized working directory.
type InitializationError struct {
	Project    string
	ReturnCode int
	Stderr     string
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialize workspace for %s (exit code %d)", e.Project, e.ReturnCode)
}

func (e *InitializationError) Is(target error) bool {
	return target == ErrInitializationFailed
}

// PreconditionError is returned when an operation is attempted on a project
// that is not in the required state. It is always returned before any
// process is started.
type PreconditionError struct {
	Project string
	Reason  string
	Err     error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Project, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Project, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

// CredentialResolutionError is returned when the credential supplier cannot
// provide credentials for a project. No process is started.
type CredentialResolutionError struct {
	Project string
	Err     error
}

func (e *CredentialResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve credentials for %s: %v", e.Project, e.Err)
}

func (e *CredentialResolutionError) Unwrap() error {
	return e.Err
}

func (e *CredentialResolutionError) Is(target error) bool {
	return target == ErrCredentialResolution
}

// StateParseError is returned when the output of "terraform state pull" is
// not a valid state document.
type StateParseError struct {
	Project    string
	ReturnCode int
	Stderr     string
}

func (e *StateParseError) Error() string {
	return fmt.Sprintf("failed to parse state for %s (exit code %d)", e.Project, e.ReturnCode)
}
