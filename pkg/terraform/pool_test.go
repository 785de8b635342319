package terraform_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kralicky/tfpool/pkg/process"
	"github.com/kralicky/tfpool/pkg/terraform"
)

var _ = Describe("RunnerPool", func() {
	var (
		env     *terraform.Environment
		logFile string
	)
	BeforeEach(func() {
		// a terraform that logs when it starts and stops to a shared file
		dir := GinkgoT().TempDir()
		logFile = filepath.Join(dir, "log")
		bin := filepath.Join(dir, "terraform")
		script := fmt.Sprintf(`#!/bin/sh
echo "start $(basename "$PWD")" >> %[1]s
sleep 0.2
echo "$1 $(basename "$PWD")"
echo "end $(basename "$PWD")" >> %[1]s
`, logFile)
		Expect(os.WriteFile(bin, []byte(script), 0o755)).To(Succeed())
		env = terraform.NewEnvironment(terraform.EnvironmentOptions{
			Binary:      bin,
			Entrypoint:  []string{"sh", "-c"},
			Passthrough: []string{"PATH"},
		})
	})

	newProjects := func(names ...string) []string {
		root := GinkgoT().TempDir()
		var projects []string
		for _, name := range names {
			project := filepath.Join(root, name)
			Expect(os.Mkdir(project, 0o755)).To(Succeed())
			projects = append(projects, project)
		}
		return projects
	}

	It("should run the operation in every project one at a time", func(ctx SpecContext) {
		projects := newProjects("a", "b", "c")
		rp := terraform.NewRunnerPool(projects, env, terraform.WithMaxConcurrency(1))
		DeferCleanup(rp.Shutdown)

		var seen []string
		for res := range rp.Init(ctx) {
			Expect(res.Err).NotTo(HaveOccurred())
			seen = append(seen, res.Project)
			r := res.Handle.Result()
			Expect(r.ReturnCode).To(Equal(0))
			Expect(r.Stdout).To(Equal("init " + filepath.Base(res.Project) + "\n"))
		}
		Expect(seen).To(Equal(projects))

		data, err := os.ReadFile(logFile)
		Expect(err).NotTo(HaveOccurred())
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		Expect(lines).To(HaveLen(6))
		for i := 0; i < len(lines); i += 2 {
			Expect(strings.HasPrefix(lines[i], "start")).To(BeTrue())
			Expect(lines[i+1]).To(Equal("end" + strings.TrimPrefix(lines[i], "start")))
		}
	})

	When("planning projects that are not initialized yet", func() {
		It("should initialize them without overlapping or reordering", func(ctx SpecContext) {
			dir := GinkgoT().TempDir()
			fake := filepath.Join(dir, "fake-terraform")
			Expect(os.WriteFile(fake, []byte(fakeTerraform), 0o755)).To(Succeed())
			bin := filepath.Join(dir, "terraform")
			script := fmt.Sprintf(`#!/bin/sh
echo "start $(basename "$PWD") $1" >> %[1]s
%[2]s "$@"
code=$?
echo "end $(basename "$PWD") $1" >> %[1]s
exit $code
`, logFile, fake)
			Expect(os.WriteFile(bin, []byte(script), 0o755)).To(Succeed())
			env = terraform.NewEnvironment(terraform.EnvironmentOptions{
				Binary:      bin,
				Entrypoint:  []string{"sh", "-c"},
				Passthrough: []string{"PATH"},
			})

			projects := newProjects("a", "b", "c")
			Expect(os.WriteFile(filepath.Join(projects[1], "needs-reinit"), nil, 0o644)).To(Succeed())
			Expect(os.WriteFile(filepath.Join(projects[2], ".initialized"), nil, 0o644)).To(Succeed())

			rp := terraform.NewRunnerPool(projects, env,
				terraform.WithMaxConcurrency(1),
				terraform.WithRunnerOptions(fastProbes),
			)
			DeferCleanup(rp.Shutdown)

			var seen []string
			for res := range rp.Plan(ctx) {
				Expect(res.Err).NotTo(HaveOccurred())
				seen = append(seen, res.Project)
				r := res.Handle.Result()
				Expect(r.ReturnCode).To(Equal(terraform.ExitChanges))
				Expect(r.Stdout).To(ContainSubstring("Plan: 1 to add"))
			}
			Expect(seen).To(Equal(projects))

			Expect(calls(projects[0])).To(Equal([]string{"plan", "init", "plan"}))
			Expect(calls(projects[1])).To(Equal([]string{"plan", "init", "plan"}))
			Expect(calls(projects[2])).To(Equal([]string{"plan"}))

			data, err := os.ReadFile(logFile)
			Expect(err).NotTo(HaveOccurred())
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			Expect(lines).To(HaveLen(14))
			for i := 0; i < len(lines); i += 2 {
				Expect(strings.HasPrefix(lines[i], "start ")).To(BeTrue())
				Expect(lines[i+1]).To(Equal("end " + strings.TrimPrefix(lines[i], "start ")))
			}
		})
	})

	It("should run projects concurrently up to the limit", func(ctx SpecContext) {
		projects := newProjects("a", "b", "c", "d")
		rp := terraform.NewRunnerPool(projects, env, terraform.WithMaxConcurrency(4))
		DeferCleanup(rp.Shutdown)

		for res := range rp.Run(ctx, terraform.OpInit) {
			Expect(res.Err).NotTo(HaveOccurred())
			res.Handle.Wait()
		}
		data, err := os.ReadFile(logFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(strings.Index(string(data), "end")).To(BeNumerically(">", strings.LastIndex(string(data), "start")))
	})

	It("should report per-project errors without stopping", func(ctx SpecContext) {
		projects := newProjects("a", "b")
		rp := terraform.NewRunnerPool(projects, env, terraform.WithMaxConcurrency(2))
		DeferCleanup(rp.Shutdown)

		var results []terraform.ProjectResult
		for res := range rp.Apply(ctx) {
			results = append(results, res)
		}
		Expect(results).To(HaveLen(2))
		for i, res := range results {
			Expect(res.Project).To(Equal(projects[i]))
			Expect(res.Handle).To(BeNil())
			Expect(res.Err).To(MatchError(terraform.ErrPrecondition))
		}
	})

	It("should stop early when the consumer stops", func(ctx SpecContext) {
		projects := newProjects("a", "b", "c")
		rp := terraform.NewRunnerPool(projects, env, terraform.WithMaxConcurrency(1))
		DeferCleanup(rp.Shutdown)

		n := 0
		for range rp.Init(ctx) {
			n++
			break
		}
		Expect(n).To(Equal(1))
	})

	It("should stop when the context is done", func(ctx SpecContext) {
		projects := newProjects("a", "b")
		rp := terraform.NewRunnerPool(projects, env, terraform.WithMaxConcurrency(1))
		DeferCleanup(rp.Shutdown)

		cctx, ca := context.WithCancel(ctx)
		ca()
		n := 0
		for range rp.Init(cctx) {
			n++
		}
		Expect(n).To(BeNumerically("<=", 2))
	})

	It("should run in a given process pool", func(ctx SpecContext) {
		pool := process.NewPool(1)
		projects := newProjects("a")
		rp := terraform.NewRunnerPool(projects, env, terraform.WithProcessPool(pool))
		for res := range rp.Init(ctx) {
			Expect(res.Handle).To(BeAssignableToTypeOf(&process.DeferredHandle{}))
			Expect(res.Handle.Result().ReturnCode).To(Equal(0))
		}
		rp.Shutdown()
		rp.Shutdown()

		d := pool.Queue(process.SpawnSpec{Args: []string{"true"}})
		Expect(d.Err()).To(MatchError(process.ErrPoolClosed))
	})
})
