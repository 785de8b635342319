package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kralicky/tfpool/pkg/terraform"
)

func BuildInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "init <project-dir>...",
		GroupID:           GroupIdTerraformCommands,
		Short:             "Initialize terraform projects.",
		Args:              cobra.MinimumNArgs(1),
		ValidArgsFunction: completeProjectDirs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summaries, err := runOperation(cmd, terraform.OpInit, args)
			if err != nil {
				return err
			}
			if n := countFailed(summaries); n > 0 {
				return fmt.Errorf("%d of %d projects failed to initialize", n, len(summaries))
			}
			return nil
		},
	}
	return cmd
}
