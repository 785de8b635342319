package terraform

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultPassthroughPrefixes are the prefixes of variables copied from the
// current environment into every terraform process. Matching is
// case-insensitive.
var DefaultPassthroughPrefixes = []string{"aws_", "okta_", "artifactory_"}

// EnvironmentOptions configures an Environment. Zero values select the
// defaults described on each field.
type EnvironmentOptions struct {
	// Base is the environment variables are passed through from, in
	// "KEY=value" form. Defaults to os.Environ().
	Base []string
	// Home is exported as HOME, and the terraform log is written below it.
	// Defaults to $HOME, or "/" if unset.
	Home string
	// Passthrough lists prefixes of variables copied from Base. Defaults to
	// DefaultPassthroughPrefixes.
	Passthrough []string
	// Credentials supplies per-project credential variables. Defaults to
	// NoopCredentials.
	Credentials CredentialSupplier
	// Binary is the terraform executable. Defaults to "terraform".
	Binary string
	// Entrypoint is the command the terraform command line is passed to as
	// its last argument. Defaults to a bash login shell.
	Entrypoint []string
}

// Environment builds the command lines and environments of terraform
// processes.
type Environment struct {
	base        []string
	home        string
	passthrough []string
	credentials CredentialSupplier
	binary      string
	entrypoint  []string
}

func NewEnvironment(opts EnvironmentOptions) *Environment {
	e := &Environment{
		base:        opts.Base,
		home:        opts.Home,
		passthrough: opts.Passthrough,
		credentials: opts.Credentials,
		binary:      opts.Binary,
		entrypoint:  opts.Entrypoint,
	}
	if e.base == nil {
		e.base = os.Environ()
	}
	if e.home == "" {
		e.home = os.Getenv("HOME")
		if e.home == "" {
			e.home = "/"
		}
	}
	if e.passthrough == nil {
		e.passthrough = DefaultPassthroughPrefixes
	}
	if e.credentials == nil {
		e.credentials = NoopCredentials{}
	}
	if e.binary == "" {
		e.binary = "terraform"
	}
	if len(e.entrypoint) == 0 {
		e.entrypoint = []string{"bash", "--login", "-c"}
	}
	return e
}

func (e *Environment) Binary() string {
	return e.binary
}

// Command returns the full command line running the given terraform
// subcommand through the entrypoint.
func (e *Environment) Command(subcommand string) []string {
	return append(slices.Clone(e.entrypoint), e.binary+" "+subcommand)
}

// For returns the environment of a terraform process running in the given
// project directory. Later sources override earlier ones: fixed variables,
// then passthrough variables, then credentials.
func (e *Environment) For(project string) ([]string, error) {
	vars := map[string]string{
		"HOME":                e.home,
		"TF_LOG":              "TRACE",
		"TF_LOG_PATH":         filepath.Join(e.home, ".terraform.log"),
		"AWS_SDK_LOAD_CONFIG": "true",
	}
	for _, prefix := range e.passthrough {
		for _, kv := range e.base {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			if len(k) >= len(prefix) && strings.EqualFold(k[:len(prefix)], prefix) {
				vars[k] = v
			}
		}
	}
	creds, err := e.credentials.Env(project)
	if err != nil {
		return nil, &CredentialResolutionError{Project: project, Err: err}
	}
	for k, v := range creds {
		vars[k] = v
	}

	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)
	return env, nil
}
