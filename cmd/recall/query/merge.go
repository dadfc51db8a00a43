package querycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/pkg/cliui"
)

const mergeLongDesc string = `Merge one entity into another.

Every relation and mention of <from> is moved to <into>, and <from> is
deleted. Relations that become identical are folded into one.

Examples:
  recall merge pg postgres
  recall merge "alice s." alice`

func NewMergeCmd() *cobra.Command {
	cmder := &clientCommander{}

	cmd := &cobra.Command{
		Use:   "merge <from> <into>",
		Short: "Merge a duplicate entity into another",
		Long:  mergeLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cmder.client()
			if err != nil {
				return err
			}

			var out *query.MergeOutput
			merge := func() error {
				out, err = cl.Merge(cmd.Context(), args[0], args[1])
				return err
			}

			if cmder.asJSON {
				err = merge()
			} else {
				err = cliui.Step(cmd.OutOrStdout(), fmt.Sprintf("Merging %q into %q", args[0], args[1]), merge)
			}
			if err != nil {
				return err
			}

			if done, err := cmder.printJSON(cmd.OutOrStdout(), out); done {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", cliui.SuccessMark, out.Message)
			return nil
		},
	}

	cmder.addFlags(cmd, false)
	return cmd
}
