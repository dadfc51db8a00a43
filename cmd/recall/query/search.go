package querycmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/pkg/cliui"
)

type searchCommander struct {
	clientCommander
	query string
}

const searchLongDesc string = `Search the knowledge graph by meaning.

Embeds the query and ranks stored facts by the cosine similarity of their
mentions. Requires a running recall server with an embedding provider.

Examples:
  recall search "who owns the pricing service"
  recall search "database migration" --limit 5
  recall search "deploy pipeline" --json`

const searchShortDesc string = "Semantic search over stored facts"

func NewSearchCmd() *cobra.Command {
	cmder := &searchCommander{}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: searchShortDesc,
		Long:  searchLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmder.query = args[0]
			return cmder.run(cmd)
		},
	}

	cmder.addFlags(cmd, true)
	return cmd
}

func (c *searchCommander) run(cmd *cobra.Command) error {
	cl, err := c.client()
	if err != nil {
		return err
	}

	out, err := cl.Search(cmd.Context(), c.query, c.limit)
	if err != nil {
		return err
	}

	if done, err := c.printJSON(cmd.OutOrStdout(), out); done {
		return err
	}

	cliui.PrintFacts(cmd.OutOrStdout(), fmt.Sprintf("Search results for: %q", out.Query), out.Results)
	return nil
}
