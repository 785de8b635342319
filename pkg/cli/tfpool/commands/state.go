package commands

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kralicky/tfpool/pkg/process"
	"github.com/kralicky/tfpool/pkg/terraform"
)

func BuildStateCmd() *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:     "state <project-dir>",
		GroupID: GroupIdTerraformCommands,
		Short:   "Show the current state of a terraform project.",
		Example: `
  Print the whole state:
    $ tfpool state ./accounts/prod

  Print the names of all resources, using a gjson path:
    $ tfpool state ./accounts/prod --query 'resources.#.name'
`[1:],
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProjectDirs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, ok := configFromContext(cmd.Context())
			if !ok {
				return errors.New("failed to get config from context")
			}
			project, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			runner := terraform.NewRunner(project, conf.Environment(), process.DirectSpawner)
			state, err := runner.State()
			if err != nil {
				return err
			}
			if query != "" {
				state = state.Get(query)
				if !state.Exists() {
					return fmt.Errorf("no value found at %q", query)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), state.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "gjson path to select from the state")
	return cmd
}
