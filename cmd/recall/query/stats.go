package querycmder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/pkg/cliui"
)

func NewStatsCmd() *cobra.Command {
	cmder := &clientCommander{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show graph size and ingestion counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := cmder.client()
			if err != nil {
				return err
			}

			out, err := cl.Stats(cmd.Context())
			if err != nil {
				return err
			}

			if done, err := cmder.printJSON(cmd.OutOrStdout(), out); done {
				return err
			}

			md := statsMarkdown(out)
			rendered, err := cliui.RenderMarkdown(md)
			if err != nil {
				rendered = md
			}
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}

	cmder.addFlags(cmd, false)
	return cmd
}

func statsMarkdown(s *query.StatsOutput) string {
	var b strings.Builder

	b.WriteString("# Knowledge graph\n\n")
	b.WriteString("| | count |\n|---|---|\n")
	fmt.Fprintf(&b, "| entities | %d |\n", s.Entities)
	fmt.Fprintf(&b, "| relations | %d |\n", s.Relations)
	fmt.Fprintf(&b, "| mentions | %d |\n", s.Mentions)

	b.WriteString("\n# Ingestion\n\n")
	b.WriteString("| | count |\n|---|---|\n")
	fmt.Fprintf(&b, "| extracted | %d |\n", s.TotalExtracted)
	fmt.Fprintf(&b, "| stored | %d |\n", s.TotalStored)
	if p := s.Pipeline; p != nil {
		fmt.Fprintf(&b, "| skipped | %d |\n", p.Skipped)
		fmt.Fprintf(&b, "| failed | %d |\n", p.Failed)
		fmt.Fprintf(&b, "| mentions stored | %d |\n", p.MentionsStored)
		fmt.Fprintf(&b, "| embedding failures | %d |\n", p.EmbeddingFailures)
	}

	fmt.Fprintf(&b, "\n# Buffers (%d active)\n\n", s.ActiveBuffers)
	if len(s.Buffers) > 0 {
		b.WriteString("| conversation | messages | last flush |\n|---|---|---|\n")
		ids := make([]string, 0, len(s.Buffers))
		for id := range s.Buffers {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		for _, id := range ids {
			st := s.Buffers[id]
			fmt.Fprintf(&b, "| %s | %d | %s |\n", id, st.MessageCount, st.LastFlush.Format("2006-01-02 15:04:05"))
		}
	}

	return b.String()
}
