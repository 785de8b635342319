package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/kralicky/tfpool/pkg/process"
	"github.com/kralicky/tfpool/pkg/terraform"
)

const outputPollInterval = 250 * time.Millisecond

type projectSummary struct {
	project string
	code    int
	err     error
}

func (s projectSummary) failed() bool {
	return s.err != nil || (s.code != terraform.ExitNoChanges && s.code != terraform.ExitChanges)
}

func completeProjectDirs(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return nil, cobra.ShellCompDirectiveFilterDirs
}

// runOperation runs op in every project through a RunnerPool, streams the
// output of each project in order, then prints a summary table.
func runOperation(cmd *cobra.Command, op terraform.Operation, projects []string) ([]projectSummary, error) {
	conf, ok := configFromContext(cmd.Context())
	if !ok {
		return nil, errors.New("failed to get config from context")
	}
	for i, p := range projects {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		projects[i] = abs
	}

	rp := terraform.NewRunnerPool(projects, conf.Environment(),
		terraform.WithMaxConcurrency(conf.Concurrency),
	)
	defer rp.Shutdown()

	var summaries []projectSummary
	for res := range rp.Run(cmd.Context(), op) {
		fmt.Fprintf(cmd.ErrOrStderr(), "==> %s %s\n", op, res.Project)
		if res.Err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", res.Err)
			summaries = append(summaries, projectSummary{project: res.Project, err: res.Err})
			continue
		}
		if err := streamOutput(cmd.Context(), res.Handle, cmd.OutOrStdout(), cmd.ErrOrStderr()); err != nil {
			return summaries, err
		}
		code, _ := res.Handle.ReturnCode()
		summaries = append(summaries, projectSummary{project: res.Project, code: code})
	}
	if err := cmd.Context().Err(); err != nil {
		return summaries, err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderSummary(op, summaries))
	return summaries, nil
}

// streamOutput copies the output of h to stdout and stderr as it arrives,
// until the process has exited and all of its output has been copied.
func streamOutput(ctx context.Context, h process.Handle, stdout, stderr io.Writer) error {
	for {
		_, exited := h.ReturnCode()
		if exited {
			if err := waitKeepingPosition(h); err != nil {
				return err
			}
		}
		idle := true
		for _, s := range []struct {
			stream process.Stream
			w      io.Writer
		}{{process.Stdout, stdout}, {process.Stderr, stderr}} {
			out, err := h.Read(s.stream, -1)
			if err != nil {
				return err
			}
			if out != "" {
				idle = false
				io.WriteString(s.w, out)
			}
		}
		if exited {
			return nil
		}
		if idle {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-h.Done():
			case <-time.After(outputPollInterval):
			}
		}
	}
}

// waitKeepingPosition waits for h to collect all of its output, then moves
// the cursors that Wait rewinds back to where they were.
func waitKeepingPosition(h process.Handle) error {
	stdoutPos, err := h.Tell(process.Stdout)
	if err != nil {
		return err
	}
	stderrPos, err := h.Tell(process.Stderr)
	if err != nil {
		return err
	}
	h.Wait()
	if err := h.Seek(process.Stdout, stdoutPos); err != nil {
		return err
	}
	return h.Seek(process.Stderr, stderrPos)
}

func renderSummary(op terraform.Operation, summaries []projectSummary) string {
	tab := table.NewWriter()
	tab.AppendHeader(table.Row{"PROJECT", "EXIT CODE", "STATUS"})
	for _, s := range summaries {
		switch {
		case s.err != nil:
			tab.AppendRow(table.Row{s.project, "-", s.err.Error()})
		case op == terraform.OpPlan:
			tab.AppendRow(table.Row{s.project, strconv.Itoa(s.code), terraform.ExitStatus(s.code)})
		case s.code == 0:
			tab.AppendRow(table.Row{s.project, strconv.Itoa(s.code), "Succeeded"})
		default:
			tab.AppendRow(table.Row{s.project, strconv.Itoa(s.code), "Errored"})
		}
	}
	return tab.Render()
}

func countFailed(summaries []projectSummary) int {
	n := 0
	for _, s := range summaries {
		if s.failed() {
			n++
		}
	}
	return n
}
