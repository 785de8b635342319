package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kralicky/tfpool/pkg/terraform"
)

func BuildPlanCmd() *cobra.Command {
	var failOnChanges bool
	cmd := &cobra.Command{
		Use:     "plan <project-dir>...",
		GroupID: GroupIdTerraformCommands,
		Short:   "Plan changes to terraform projects.",
		Long: fmt.Sprintf(`
Runs 'terraform plan' in every project, and saves each plan to %[2]s in
the project directory.

Projects that have not been initialized yet are initialized automatically.

To apply the saved plans, use the command '%[1]s apply <project-dir>...'.
`[1:], os.Args[0], terraform.PlanFile),
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeProjectDirs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := runOperation(cmd, terraform.OpPlan, args)
			if err != nil {
				return err
			}
			if n := countFailed(summaries); n > 0 {
				return fmt.Errorf("%d of %d projects failed to plan", n, len(summaries))
			}
			if failOnChanges {
				changed := 0
				for _, s := range summaries {
					if s.code == terraform.ExitChanges {
						changed++
					}
				}
				if changed > 0 {
					return fmt.Errorf("%d of %d projects have changes", changed, len(summaries))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&failOnChanges, "fail-on-changes", false, "exit with an error if any project has changes")
	return cmd
}
