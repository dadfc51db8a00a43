package querycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/ingest"
)

type addCommander struct {
	clientCommander
	subjectType string
	objectType  string
}

const addLongDesc string = `Add a fact directly, bypassing extraction.

Manual facts are stored with full confidence.

Examples:
  recall add alice works_on "pricing service"
  recall add alice uses postgres --subject-type person --object-type technology`

func NewAddCmd() *cobra.Command {
	cmder := &addCommander{}

	cmd := &cobra.Command{
		Use:   "add <subject> <relation> <object>",
		Short: "Add a fact manually",
		Long:  addLongDesc,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cmder.client()
			if err != nil {
				return err
			}

			out, err := cl.AddFact(cmd.Context(), ingest.ManualFact{
				Subject:     args[0],
				SubjectType: cmder.subjectType,
				Relation:    args[1],
				Object:      args[2],
				ObjectType:  cmder.objectType,
			})
			if err != nil {
				return err
			}

			if done, err := cmder.printJSON(cmd.OutOrStdout(), out); done {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "  %s Stored %s %s\n",
				cliui.SuccessMark,
				out.Fact,
				cliui.DimStyle.Render(fmt.Sprintf("(relation %d)", out.RelationID)),
			)
			return nil
		},
	}

	cmder.addFlags(cmd, false)
	cmd.Flags().StringVar(&cmder.subjectType, "subject-type", "", "Subject entity type (person, project, technology, ...)")
	cmd.Flags().StringVar(&cmder.objectType, "object-type", "", "Object entity type")
	return cmd
}
