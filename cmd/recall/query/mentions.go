package querycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/cliui"
)

func NewMentionsCmd() *cobra.Command {
	cmder := &clientCommander{}

	cmd := &cobra.Command{
		Use:   "mentions <entity>",
		Short: "List the passages that mention an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cmder.client()
			if err != nil {
				return err
			}

			out, err := cl.Mentions(cmd.Context(), args[0], cmder.limit)
			if err != nil {
				return err
			}

			if done, err := cmder.printJSON(cmd.OutOrStdout(), out); done {
				return err
			}

			cliui.PrintMentions(cmd.OutOrStdout(), fmt.Sprintf("Mentions of %q (entity %d)", out.Entity, out.EntityID), out.Mentions)
			return nil
		},
	}

	cmder.addFlags(cmd, true)
	return cmd
}
