package querycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/pkg/cliui"
	"github.com/papercomputeco/recall/pkg/client"
)

const factsLongDesc string = `List stored facts.

Examples:
  recall facts entity alice
  recall facts relation works_on
  recall facts recent --limit 20`

const factsShortDesc string = "List facts by entity, relation, or recency"

func NewFactsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "facts",
		Short: factsShortDesc,
		Long:  factsLongDesc,
	}

	cmd.AddCommand(newFactsSubCmd(
		"entity <name>",
		"List facts where the entity is subject or object",
		cobra.ExactArgs(1),
		func(cmd *cobra.Command, cl *client.Client, args []string, limit int) (*query.FactsOutput, string, error) {
			out, err := cl.EntityFacts(cmd.Context(), args[0], limit)
			return out, fmt.Sprintf("Facts about %q", args[0]), err
		},
	))
	cmd.AddCommand(newFactsSubCmd(
		"relation <relation>",
		"List facts with a relation label",
		cobra.ExactArgs(1),
		func(cmd *cobra.Command, cl *client.Client, args []string, limit int) (*query.FactsOutput, string, error) {
			out, err := cl.RelationFacts(cmd.Context(), args[0], limit)
			return out, fmt.Sprintf("Facts with relation %q", args[0]), err
		},
	))
	cmd.AddCommand(newFactsSubCmd(
		"recent",
		"List the most recently stored facts",
		cobra.NoArgs,
		func(cmd *cobra.Command, cl *client.Client, _ []string, limit int) (*query.FactsOutput, string, error) {
			out, err := cl.RecentFacts(cmd.Context(), limit)
			return out, "Recent facts", err
		},
	))

	return cmd
}

type factsFetcher func(cmd *cobra.Command, cl *client.Client, args []string, limit int) (*query.FactsOutput, string, error)

func newFactsSubCmd(use, short string, args cobra.PositionalArgs, fetch factsFetcher) *cobra.Command {
	cmder := &clientCommander{}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := cmder.client()
			if err != nil {
				return err
			}

			out, header, err := fetch(cmd, cl, args, cmder.limit)
			if err != nil {
				return err
			}

			if done, err := cmder.printJSON(cmd.OutOrStdout(), out); done {
				return err
			}

			cliui.PrintFacts(cmd.OutOrStdout(), header, out.Facts)
			return nil
		},
	}

	cmder.addFlags(cmd, true)
	return cmd
}
