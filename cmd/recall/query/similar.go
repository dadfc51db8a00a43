package querycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/cliui"
)

const similarLongDesc string = `Find entities semantically similar to an entity.

Useful for spotting duplicates before a merge.

Examples:
  recall similar postgres
  recall similar "pricing service" --limit 3`

func NewSimilarCmd() *cobra.Command {
	cmder := &clientCommander{}

	cmd := &cobra.Command{
		Use:   "similar <entity>",
		Short: "Find semantically similar entities",
		Long:  similarLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cmder.client()
			if err != nil {
				return err
			}

			out, err := cl.Similar(cmd.Context(), args[0], cmder.limit)
			if err != nil {
				return err
			}

			if done, err := cmder.printJSON(cmd.OutOrStdout(), out); done {
				return err
			}

			cliui.PrintScoredEntities(cmd.OutOrStdout(), fmt.Sprintf("Entities similar to %q", out.Entity), out.Similar)
			return nil
		},
	}

	cmder.addFlags(cmd, true)
	return cmd
}
