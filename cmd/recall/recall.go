// Package recallcmder
package recallcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/recall/cmd/recall/config"
	initcmder "github.com/papercomputeco/recall/cmd/recall/init"
	querycmder "github.com/papercomputeco/recall/cmd/recall/query"
	servecmder "github.com/papercomputeco/recall/cmd/recall/serve"
	statuscmder "github.com/papercomputeco/recall/cmd/recall/status"
	watchcmder "github.com/papercomputeco/recall/cmd/recall/watch"
	versioncmder "github.com/papercomputeco/recall/cmd/version"
)

const recallLongDesc string = `Recall is long-term memory for your conversations.

Messages are buffered per conversation, facts are extracted from sliding
windows by an LLM, and the resulting knowledge graph is searchable by
meaning over REST, MCP, or this CLI.

Run the server:
  recall serve                 Ingestion pipeline, REST API, and MCP server
  recall watch <dir>           Forward JSONL transcripts to a running server

Query the graph:
  recall search <query>        Semantic search over stored facts
  recall facts entity <name>   Facts about one entity
  recall similar <entity>      Entities with similar meaning
  recall merge <from> <into>   Fold a duplicate entity into another`

const recallShortDesc string = "Recall - Conversational Memory"

func NewRecallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "recall",
		Short:        recallShortDesc,
		Long:         recallLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .recall/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(watchcmder.NewWatchCmd())
	cmd.AddCommand(querycmder.NewSearchCmd())
	cmd.AddCommand(querycmder.NewFactsCmd())
	cmd.AddCommand(querycmder.NewSimilarCmd())
	cmd.AddCommand(querycmder.NewMentionsCmd())
	cmd.AddCommand(querycmder.NewMergeCmd())
	cmd.AddCommand(querycmder.NewAddCmd())
	cmd.AddCommand(querycmder.NewStatsCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
