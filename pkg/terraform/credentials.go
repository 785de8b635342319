package terraform

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// CredentialSupplier returns the variables a terraform process needs to
// authenticate for a project, such as AWS_PROFILE.
type CredentialSupplier interface {
	Env(project string) (map[string]string, error)
}

type CredentialSupplierFunc func(project string) (map[string]string, error)

func (f CredentialSupplierFunc) Env(project string) (map[string]string, error) {
	return f(project)
}

// NoopCredentials supplies no variables.
type NoopCredentials struct{}

func (NoopCredentials) Env(string) (map[string]string, error) {
	return nil, nil
}

var (
	ErrNoRoleARN      = errors.New("no role_arn found")
	ErrUnknownAccount = errors.New("no profile configured for account")

	roleARNPattern = regexp.MustCompile(`\s*role_arn\s+=\s+"(.*?)"`)
)

// AccountForProject returns the AWS account id of the first role_arn
// assignment in the project's main.tf.
func AccountForProject(project string) (string, error) {
	path := filepath.Join(project, "main.tf")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	m := roleARNPattern.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("%w in %s", ErrNoRoleARN, path)
	}
	arn := string(m[1])
	parts := strings.Split(arn, ":")
	if len(parts) < 5 || parts[4] == "" {
		return "", fmt.Errorf("malformed role arn %q in %s", arn, path)
	}
	return parts[4], nil
}

// RoleProfileMapping selects an AWS profile from the account of the role a
// project assumes.
type RoleProfileMapping struct {
	// Account id to profile name.
	Profiles map[string]string
	// Used for accounts not present in Profiles. If empty, such accounts
	// are an error.
	DefaultProfile string
	// If set, exported as AWS_REGION and AWS_DEFAULT_REGION.
	Region string
}

func (m *RoleProfileMapping) Env(project string) (map[string]string, error) {
	account, err := AccountForProject(project)
	if err != nil {
		return nil, err
	}
	profile, ok := m.Profiles[account]
	if !ok {
		if m.DefaultProfile == "" {
			return nil, fmt.Errorf("%w %s", ErrUnknownAccount, account)
		}
		profile = m.DefaultProfile
	}
	env := map[string]string{"AWS_PROFILE": profile}
	if m.Region != "" {
		env["AWS_REGION"] = m.Region
		env["AWS_DEFAULT_REGION"] = m.Region
	}
	return env, nil
}

// CachedCredentials remembers the variables returned by another supplier
// for each project. Errors are not cached.
type CachedCredentials struct {
	supplier CredentialSupplier

	mu    sync.Mutex
	cache map[string]map[string]string
}

func NewCachedCredentials(supplier CredentialSupplier) *CachedCredentials {
	return &CachedCredentials{
		supplier: supplier,
		cache:    make(map[string]map[string]string),
	}
}

func (c *CachedCredentials) Env(project string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if env, ok := c.cache[project]; ok {
		return maps.Clone(env), nil
	}
	env, err := c.supplier.Env(project)
	if err != nil {
		return nil, err
	}
	c.cache[project] = env
	return maps.Clone(env), nil
}
