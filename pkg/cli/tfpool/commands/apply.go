package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kralicky/tfpool/pkg/terraform"
)

func BuildApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "apply <project-dir>...",
		GroupID:           GroupIdTerraformCommands,
		Short:             "Apply the saved plans of terraform projects.",
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeProjectDirs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := runOperation(cmd, terraform.OpApply, args)
			if err != nil {
				return err
			}
			if n := countFailed(summaries); n > 0 {
				return fmt.Errorf("%d of %d projects failed to apply", n, len(summaries))
			}
			return nil
		},
	}
	return cmd
}
