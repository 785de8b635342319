package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kralicky/tfpool/pkg/config"
	"github.com/kralicky/tfpool/pkg/terraform"
)

var _ = Describe("Config", func() {
	writeConfig := func(contents string) string {
		path := filepath.Join(GinkgoT().TempDir(), "tfpool.yaml")
		Expect(os.WriteFile(path, []byte(contents), 0o644)).To(Succeed())
		return path
	}

	It("should load a complete config", func() {
		conf, err := config.Load(writeConfig(`
concurrency: 8
terraform:
  binary: /usr/local/bin/terraform
  entrypoint: [sh, -c]
  passthrough: [aws_, tf_var_]
credentials:
  default_profile: sandbox
  region: us-east-1
  accounts:
    "111111111111": prod
metrics:
  address: 127.0.0.1:9090
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(conf).To(Equal(&config.Config{
			Concurrency: 8,
			Terraform: config.TerraformConfig{
				Binary:      "/usr/local/bin/terraform",
				Entrypoint:  []string{"sh", "-c"},
				Passthrough: []string{"aws_", "tf_var_"},
			},
			Credentials: config.CredentialsConfig{
				DefaultProfile: "sandbox",
				Region:         "us-east-1",
				Accounts:       map[string]string{"111111111111": "prod"},
			},
			Metrics: config.MetricsConfig{Address: "127.0.0.1:9090"},
		}))
		Expect(conf.CredentialSupplier()).To(BeAssignableToTypeOf(&terraform.CachedCredentials{}))
		Expect(conf.Environment().Binary()).To(Equal("/usr/local/bin/terraform"))
	})

	It("should keep defaults for missing keys", func() {
		conf, err := config.Load(writeConfig("concurrency: 2\n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(conf.Concurrency).To(Equal(2))
		Expect(conf.Terraform).To(Equal(config.Default().Terraform))
		Expect(conf.CredentialSupplier()).To(Equal(terraform.NoopCredentials{}))
	})

	It("should fail on a missing file", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(MatchError(os.ErrNotExist))
	})

	It("should fail on malformed yaml", func() {
		_, err := config.Load(writeConfig("concurrency: [1"))
		Expect(err).To(MatchError(ContainSubstring("failed to parse config")))
	})

	It("should report every invalid value", func() {
		_, err := config.Load(writeConfig(`
concurrency: -1
terraform:
  binary: ""
  entrypoint: []
credentials:
  accounts:
    prod: prod
metrics:
  address: "9090"
`))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(And(
			ContainSubstring("concurrency"),
			ContainSubstring("terraform.binary"),
			ContainSubstring("terraform.entrypoint"),
			ContainSubstring(`"prod" is not an AWS account id`),
			ContainSubstring("metrics.address"),
		))
	})

	It("should accept the defaults", func() {
		Expect(config.Default().Validate()).To(Succeed())
	})
})
