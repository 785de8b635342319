// Package config loads the tfpool configuration file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/kralicky/tfpool/pkg/terraform"
)

type Config struct {
	// Maximum number of terraform processes running at once.
	Concurrency int               `yaml:"concurrency"`
	Terraform   TerraformConfig   `yaml:"terraform"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

type TerraformConfig struct {
	Binary      string   `yaml:"binary"`
	Entrypoint  []string `yaml:"entrypoint"`
	Passthrough []string `yaml:"passthrough"`
}

type CredentialsConfig struct {
	DefaultProfile string `yaml:"default_profile"`
	Region         string `yaml:"region"`
	// AWS account id to profile name.
	Accounts map[string]string `yaml:"accounts"`
}

type MetricsConfig struct {
	// If empty, metrics are not served.
	Address string `yaml:"address"`
}

var accountIDPattern = regexp.MustCompile(`^[0-9]{12}$`)

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Concurrency: terraform.DefaultMaxConcurrency,
		Terraform: TerraformConfig{
			Binary:      "terraform",
			Entrypoint:  []string{"bash", "--login", "-c"},
			Passthrough: terraform.DefaultPassthroughPrefixes,
		},
		Credentials: CredentialsConfig{
			Region: "us-east-1",
		},
	}
}

// Load reads the configuration file at path. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	conf := Default()
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return conf, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency must not be negative (got %d)", c.Concurrency))
	}
	if c.Terraform.Binary == "" {
		errs = append(errs, errors.New("terraform.binary must not be empty"))
	}
	if len(c.Terraform.Entrypoint) == 0 {
		errs = append(errs, errors.New("terraform.entrypoint must not be empty"))
	}
	for account := range c.Credentials.Accounts {
		if !accountIDPattern.MatchString(account) {
			errs = append(errs, fmt.Errorf("credentials.accounts: %q is not an AWS account id", account))
		}
	}
	if c.Metrics.Address != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			errs = append(errs, fmt.Errorf("metrics.address: %w", err))
		}
	}
	return errors.Join(errs...)
}

// CredentialSupplier returns the credential supplier described by the
// configuration. Without any account mappings or default profile, no
// credentials are supplied.
func (c *Config) CredentialSupplier() terraform.CredentialSupplier {
	if len(c.Credentials.Accounts) == 0 && c.Credentials.DefaultProfile == "" {
		return terraform.NoopCredentials{}
	}
	return terraform.NewCachedCredentials(&terraform.RoleProfileMapping{
		Profiles:       c.Credentials.Accounts,
		DefaultProfile: c.Credentials.DefaultProfile,
		Region:         c.Credentials.Region,
	})
}

// Environment returns the terraform environment described by the
// configuration.
func (c *Config) Environment() *terraform.Environment {
	return terraform.NewEnvironment(terraform.EnvironmentOptions{
		Passthrough: c.Terraform.Passthrough,
		Credentials: c.CredentialSupplier(),
		Binary:      c.Terraform.Binary,
		Entrypoint:  c.Terraform.Entrypoint,
	})
}
